package distribute

import (
	"fmt"

	"github.com/surgeworks/stampede/pkg/types"
)

// Distribute partitions totalVUs across workers holding at most perWorkerVUs
// each. The first N-1 workers receive perWorkerVUs; the last worker absorbs
// the remainder. The slices always sum exactly to totalVUs and no worker is
// assigned zero VUs.
func Distribute(totalVUs, perWorkerVUs int) ([]types.WorkerAssignment, error) {
	if totalVUs <= 0 {
		return nil, fmt.Errorf("%w: total_vus must be >= 1, got %d", types.ErrInvalidDistribution, totalVUs)
	}
	if perWorkerVUs <= 0 {
		return nil, fmt.Errorf("%w: per_worker_vus must be >= 1, got %d", types.ErrInvalidDistribution, perWorkerVUs)
	}

	workerCount := (totalVUs + perWorkerVUs - 1) / perWorkerVUs

	assignments := make([]types.WorkerAssignment, workerCount)
	for i := 0; i < workerCount; i++ {
		vus := perWorkerVUs
		if i == workerCount-1 {
			vus = totalVUs - (workerCount-1)*perWorkerVUs
		}
		assignments[i] = types.WorkerAssignment{
			WorkerIndex:  i,
			WorkerCount:  workerCount,
			VUsForWorker: vus,
		}
	}

	return assignments, nil
}
