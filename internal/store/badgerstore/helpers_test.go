package badgerstore

import (
	"time"

	"github.com/roach88/regsync/internal/model"
)

func taskForTest() model.Task {
	return model.NewTask(model.ActionUpdateRegistration)
}

func timeForTest() time.Time {
	return time.UnixMilli(1_700_000_000_000)
}
