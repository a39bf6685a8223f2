package jlog_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/log"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/jlog"
)

func TestDebug(t *testing.T) {
	buf := bytes.NewBuffer([]byte{})
	jLogger := log.NewCmdLogger(buf, true)
	log.SetLoggerForTesting(t, jLogger)

	logger := jlog.New()
	ctx := context.Background()
	logger.Debug(ctx, "contract deployed", map[string]string{"contractID": "c1"})

	require.Contains(t, buf.String(), "contract deployed")
	require.Contains(t, buf.String(), "contractid=c1")
}

func TestError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{})
	jLogger := log.NewCmdLogger(buf, true)
	log.SetLoggerForTesting(t, jLogger)

	logger := jlog.New()
	ctx := context.Background()
	logger.Error(ctx, errors.New("notification failed"))

	require.Contains(t, buf.String(), "notification failed")
	require.Contains(t, buf.String(), "E ")
}

func TestErrorFailure(t *testing.T) {
	buf := bytes.NewBuffer([]byte{})
	jLogger := log.NewCmdLogger(buf, true)
	log.SetLoggerForTesting(t, jLogger)

	logger := jlog.New()
	logger.Error(context.Background(), &ledgerflow.Failure{
		Workflow: ledgerflow.WorkflowDeploy,
		Kind:     ledgerflow.KindAlreadyDeployed,
		Message:  "contract c1 is already deployed",
	})

	require.Contains(t, buf.String(), "contract c1 is already deployed")
	require.Contains(t, buf.String(), "kind=AlreadyDeployed")
	require.Contains(t, buf.String(), "workflow=deploy")
}
