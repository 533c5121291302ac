package distribute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgeworks/stampede/pkg/types"
)

func TestDistribute(t *testing.T) {
	tests := []struct {
		name     string
		totalVUs int
		perVUs   int
		want     []int
	}{
		{"single vu", 1, 1, []int{1}},
		{"exact fit one worker", 5, 5, []int{5}},
		{"one over", 6, 5, []int{5, 1}},
		{"five over two", 5, 2, []int{2, 2, 1}},
		{"even split", 10, 5, []int{5, 5}},
		{"large remainder", 50, 12, []int{12, 12, 12, 12, 2}},
		{"per exceeds total", 3, 10, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distribute(tt.totalVUs, tt.perVUs)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))

			sum := 0
			for i, a := range got {
				assert.Equal(t, i, a.WorkerIndex)
				assert.Equal(t, len(tt.want), a.WorkerCount)
				assert.Equal(t, tt.want[i], a.VUsForWorker)
				assert.Greater(t, a.VUsForWorker, 0)
				sum += a.VUsForWorker
			}
			assert.Equal(t, tt.totalVUs, sum, "assignments must sum to total")
		})
	}
}

func TestDistributeRejectsNonPositive(t *testing.T) {
	for _, tc := range [][2]int{{0, 5}, {-1, 5}, {5, 0}, {5, -2}} {
		_, err := Distribute(tc[0], tc[1])
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrInvalidDistribution))
	}
}
