package helper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/huangyocai/mihomo-installer/pkg/logger"
)

func panics(log *logger.Logger) (err error) {
	defer RecoverPanic(log, "stage", &err)
	var m map[string]int
	m["boom"] = 1
	return nil
}

func returns(log *logger.Logger) (err error) {
	defer RecoverPanic(log, "stage", &err)
	return errors.New("plain")
}

func TestRecoverPanic(t *testing.T) {
	log := logger.NewLogger("helper-test")

	err := panics(log)
	assert.ErrorContains(t, err, "stage: panic: assignment to entry in nil map")

	assert.EqualError(t, returns(log), "plain")
}
