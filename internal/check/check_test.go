package check

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_CountsPerName(t *testing.T) {
	r := NewRecorder()

	assert.True(t, r.Check("status is 200", true))
	assert.True(t, r.Check("status is 200", true))
	assert.False(t, r.Check("Patron created", false))

	summary := r.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, Result{Name: "status is 200", Passes: 2}, summary[0])
	assert.Equal(t, Result{Name: "Patron created", Fails: 1}, summary[1])

	passes, fails := r.Totals()
	assert.Equal(t, 2, passes)
	assert.Equal(t, 1, fails)
	assert.InDelta(t, 2.0/3.0, r.Rate(), 1e-9)
}

func TestRecorder_EmptyRateIsOne(t *testing.T) {
	assert.Equal(t, 1.0, NewRecorder().Rate())
}

func TestRecorder_ObserverAndConcurrency(t *testing.T) {
	r := NewRecorder()
	var mu sync.Mutex
	seen := 0
	r.SetObserver(func(name string, ok bool) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Check("concurrent", i%2 == 0)
		}(i)
	}
	wg.Wait()

	summary := r.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, 50, summary[0].Total())
	assert.Equal(t, 25, summary[0].Passes)
	assert.Equal(t, 50, seen)
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		expr    string
		rate    float64
		want    bool
		wantErr bool
	}{
		{expr: "rate==1.0", rate: 1, want: true},
		{expr: "rate==1.0", rate: 0.99, want: false},
		{expr: "rate >= 0.95", rate: 0.96, want: true},
		{expr: "rate<0.5", rate: 0.5, want: false},
		{expr: "rate>0.5", rate: 0.51, want: true},
		{expr: "rate!=0", rate: 0, want: false},
		{expr: "rate<=0.2", rate: 0.2, want: true},
		{expr: "p95<200", wantErr: true},
		{expr: "rate~1", wantErr: true},
		{expr: "rate==abc", wantErr: true},
		{expr: "rate==2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			th, err := ParseThreshold(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, th.Evaluate(tt.rate))
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	ths, err := ParseThresholds([]string{"rate==1.0", "rate>0.9"})
	require.NoError(t, err)

	assert.Empty(t, EvaluateAll(ths, 1))
	assert.Equal(t, []string{"rate==1.0"}, EvaluateAll(ths, 0.95))
}
