package job

import (
	"context"
	"time"

	"submaster/internal/service"
	"submaster/logger"
	"submaster/util/common"
)

// ExpireTransactionsJob cancels pending transactions that outlived the
// payment window.
type ExpireTransactionsJob struct {
	transactions *service.TransactionService
	window       time.Duration
}

func NewExpireTransactionsJob(transactions *service.TransactionService, window time.Duration) *ExpireTransactionsJob {
	return &ExpireTransactionsJob{transactions: transactions, window: window}
}

func (j *ExpireTransactionsJob) Run() {
	defer common.Recover("ExpireTransactionsJob")
	if _, err := j.transactions.ExpireStale(context.Background(), j.window); err != nil {
		logger.Debugf("ExpireTransactionsJob: sweep error: %v", err)
	}
}
