package policy

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckDeviation(t *testing.T) {
	valid := func(v *big.Int) Observation {
		return Observation{Value: v, ObservedAt: testNow, Valid: true}
	}
	invalid := func(v *big.Int) Observation {
		return Observation{Value: v, ObservedAt: testNow}
	}

	tests := []struct {
		name     string
		primary  Observation
		fallback *Observation
		maxBps   uint64
		want     Deviation
	}{
		{
			name:     "0.498 percent",
			primary:  valid(e8(2000)),
			fallback: ptr(valid(e8(2010))),
			maxBps:   500,
			want:     Deviation{WithinThreshold: true, DeviationBps: 49},
		},
		{
			name:     "22 percent",
			primary:  valid(e8(2000)),
			fallback: ptr(valid(e8(2500))),
			maxBps:   500,
			want:     Deviation{WithinThreshold: false, DeviationBps: 2222},
		},
		{
			name:     "symmetric",
			primary:  valid(e8(2500)),
			fallback: ptr(valid(e8(2000))),
			maxBps:   500,
			want:     Deviation{WithinThreshold: false, DeviationBps: 2222},
		},
		{
			name:     "identical",
			primary:  valid(e8(2000)),
			fallback: ptr(valid(e8(2000))),
			maxBps:   0,
			want:     Deviation{WithinThreshold: true, DeviationBps: 0},
		},
		{
			name:     "exactly at threshold",
			primary:  valid(big.NewInt(95)),
			fallback: ptr(valid(big.NewInt(105))),
			maxBps:   1000,
			want:     Deviation{WithinThreshold: true, DeviationBps: 1000},
		},
		{
			name:     "floor of odd mean",
			primary:  valid(big.NewInt(1)),
			fallback: ptr(valid(big.NewInt(2))),
			maxBps:   5000,
			// mean floor(3/2)=1, 1*10000/1
			want: Deviation{WithinThreshold: false, DeviationBps: 10000},
		},
		{
			name:    "no fallback",
			primary: invalid(big.NewInt(0)),
			maxBps:  0,
			want:    Deviation{WithinThreshold: true, DeviationBps: 0},
		},
		{
			name:     "primary invalid",
			primary:  invalid(e8(2000)),
			fallback: ptr(valid(e8(2000))),
			maxBps:   5000,
			want:     Deviation{WithinThreshold: false, DeviationBps: DeviationUndefined},
		},
		{
			name:     "fallback invalid",
			primary:  valid(e8(2000)),
			fallback: ptr(invalid(e8(2000))),
			maxBps:   5000,
			want:     Deviation{WithinThreshold: false, DeviationBps: DeviationUndefined},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckDeviation(tt.primary, tt.fallback, tt.maxBps))
		})
	}
}

func TestDeviationBps_LargeAnswers(t *testing.T) {
	// int256-scale answers must not overflow
	a, _ := new(big.Int).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819967", 10)
	b := new(big.Int).Sub(a, big.NewInt(1))
	assert.Equal(t, uint64(0), DeviationBps(a, b))
}

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
		age   time.Duration
		want  bool
	}{
		{"fresh positive", big.NewInt(1), 0, true},
		{"at heartbeat", big.NewInt(1), 60 * time.Second, true},
		{"past heartbeat", big.NewInt(1), 61 * time.Second, false},
		{"zero", big.NewInt(0), 0, false},
		{"negative", big.NewInt(-1), 0, false},
		{"nil", nil, 0, false},
		{"future timestamp", big.NewInt(1), -30 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateObservation(tt.value, testNow.Add(-tt.age), testNow, 60))
		})
	}
}

func ptr(o Observation) *Observation {
	return &o
}
