package meta

import (
	"math"
	"testing"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name     string
		estimate float64
		se       float64
		want     bool
	}{
		{
			name:     "finite estimate and positive se",
			estimate: 0.3,
			se:       0.05,
			want:     true,
		},
		{
			name:     "negative estimate is fine",
			estimate: -0.8,
			se:       0.1,
			want:     true,
		},
		{
			name:     "zero se",
			estimate: 0.3,
			se:       0,
			want:     false,
		},
		{
			name:     "negative se",
			estimate: 0.3,
			se:       -0.05,
			want:     false,
		},
		{
			name:     "missing estimate",
			estimate: math.NaN(),
			se:       0.05,
			want:     false,
		},
		{
			name:     "missing se",
			estimate: 0.3,
			se:       math.NaN(),
			want:     false,
		},
		{
			name:     "infinite estimate",
			estimate: math.Inf(1),
			se:       0.05,
			want:     false,
		},
		{
			name:     "infinite se",
			estimate: 0.3,
			se:       math.Inf(1),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Valid(tt.estimate, tt.se)
			if got != tt.want {
				t.Errorf("Valid(%v, %v) = %v, want %v", tt.estimate, tt.se, got, tt.want)
			}
		})
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name      string
		values    []float64
		ses       []float64
		wantValue float64
		wantSE    float64
		wantZ     float64
		wantUsed  int
	}{
		{
			name:      "single study passes through unchanged",
			values:    []float64{0.30},
			ses:       []float64{0.05},
			wantValue: 0.30,
			wantSE:    0.05,
			wantZ:     6.0,
			wantUsed:  1,
		},
		{
			name:      "two studies weighted by inverse variance",
			values:    []float64{0.20, 0.40},
			ses:       []float64{0.10, 0.05},
			wantValue: 0.36,
			wantSE:    0.0447213595,
			wantZ:     8.0498447190,
			wantUsed:  2,
		},
		{
			name:      "equal standard errors reduce to the plain mean",
			values:    []float64{0.10, 0.30},
			ses:       []float64{0.05, 0.05},
			wantValue: 0.20,
			wantSE:    0.0353553391,
			wantZ:     5.6568542495,
			wantUsed:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(tt.values, tt.ses)

			if got.Used != tt.wantUsed {
				t.Fatalf("Combine() used %d studies, want %d", got.Used, tt.wantUsed)
			}
			if !almost(got.Value, tt.wantValue) {
				t.Errorf("Combine().Value = %v, want %v", got.Value, tt.wantValue)
			}
			if !almost(got.SE, tt.wantSE) {
				t.Errorf("Combine().SE = %v, want %v", got.SE, tt.wantSE)
			}
			if !almost(got.Z, tt.wantZ) {
				t.Errorf("Combine().Z = %v, want %v", got.Z, tt.wantZ)
			}
			if got.P <= 0 || got.P >= 1 {
				t.Errorf("Combine().P = %v, want a value in (0, 1)", got.P)
			}
		})
	}
}

func TestCombineEmpty(t *testing.T) {
	got := Combine(nil, nil)
	if got.Used != 0 {
		t.Errorf("Combine(nil, nil).Used = %d, want 0", got.Used)
	}
}

func TestCombineSingleMatchesOwnZ(t *testing.T) {
	got := Combine([]float64{0.30}, []float64{0.05})
	if got.Z != 6.0 {
		t.Errorf("single-study z = %v, want exactly 6.0", got.Z)
	}
	if got.Value != 0.30 || got.SE != 0.05 {
		t.Errorf("single-study result = (%v, %v), want inputs passed through exactly", got.Value, got.SE)
	}
}

func TestTwoSidedP(t *testing.T) {
	tests := []struct {
		name string
		z    float64
		want float64
	}{
		{
			name: "zero z",
			z:    0,
			want: 1.0,
		},
		{
			name: "conventional 5 percent cutoff",
			z:    1.9599639845,
			want: 0.05,
		},
		{
			name: "strong signal",
			z:    6.0,
			want: 1.9731752898e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TwoSidedP(tt.z)
			if math.Abs(got-tt.want) > 1e-6*tt.want {
				t.Errorf("TwoSidedP(%v) = %v, want %v", tt.z, got, tt.want)
			}

			if neg := TwoSidedP(-tt.z); neg != got {
				t.Errorf("TwoSidedP(%v) = %v, want the same as TwoSidedP(%v) = %v", -tt.z, neg, tt.z, got)
			}
		})
	}
}

func almost(got, want float64) bool {
	return math.Abs(got-want) <= 1e-9
}
