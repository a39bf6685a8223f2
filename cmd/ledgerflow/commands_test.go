package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
)

var counterTemplate = map[string]string{
	"package.json": `{"name": "counter", "version": "1.0.0"}`,
	"logic/init.cel": `{
		"state": {"count": 0.0},
		"response": {"deployed": true}
	}`,
	"logic/trigger.cel": `{
		"state": {"count": state.count + request.by},
		"response": {"count": state.count + request.by}
	}`,
}

type cli struct {
	dir    string
	config string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()

	for name, content := range counterTemplate {
		path := filepath.Join(dir, "template", filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	config := `
ledgerName: contracts
sourceBucket: source
ledgerBucket: ledger
scratchDir: ` + filepath.Join(dir, "scratch") + `
settleDelay: 1ms
ledger:
  backend: sqlite
  path: ` + filepath.Join(dir, "ledger.db") + `
blobs:
  backend: fs
  root: ` + filepath.Join(dir, "blobs") + `
notifier:
  backend: none
`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scratch"), 0o700))

	path := filepath.Join(dir, "ledgerflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	return &cli{dir: dir, config: path}
}

// run executes the command and decodes the envelope it wrote.
func (c *cli) run(t *testing.T, args ...string) (ledgerflow.Envelope, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))

	err := cmd.Execute()

	var env ledgerflow.Envelope
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	}

	return env, err
}

func TestLifecycle(t *testing.T) {
	c := newCLI(t)

	env, err := c.run(t, "publish", filepath.Join(c.dir, "template"), "s3://source/templates/counter.cta")
	jtest.RequireNil(t, err)
	require.JSONEq(t, `{"bucket":"source","path":"templates/counter.cta"}`, string(env.Response))

	env, err = c.run(t, "deploy", "c1", "--source", "templates/counter.cta", "--mode", "reference")
	jtest.RequireNil(t, err)
	require.JSONEq(t, `{"deployed": true}`, string(env.Response))

	env, err = c.run(t, "execute", "c1", "--request", `{"by": 2}`)
	jtest.RequireNil(t, err)
	require.JSONEq(t, `{"count": 2}`, string(env.Response))

	env, err = c.run(t, "run", "c1", "--request", `{"by": 3}`)
	jtest.RequireNil(t, err)
	require.JSONEq(t, `{"count": 5}`, string(env.Response))

	env, err = c.run(t, "history", "c1", "c1.state")
	jtest.RequireNil(t, err)

	var revs []ledgerflow.Revision
	require.NoError(t, json.Unmarshal(env.Response, &revs))
	require.Len(t, revs, 3)
	require.JSONEq(t, `{"count": 5}`, string(revs[2].Value))

	env, err = c.run(t, "revision", "c1", "c1.state", "2")
	jtest.RequireNil(t, err)

	var rev ledgerflow.Revision
	require.NoError(t, json.Unmarshal(env.Response, &rev))
	require.Equal(t, int64(2), rev.Version)
	require.JSONEq(t, `{"count": 2}`, string(rev.Value))

	env, err = c.run(t, "metadata", "c1", "c1.result")
	jtest.RequireNil(t, err)

	mdPath := filepath.Join(c.dir, "metadata.json")
	require.NoError(t, os.WriteFile(mdPath, env.Response, 0o600))

	env, err = c.run(t, "verify", "--metadata", "@"+mdPath)
	jtest.RequireNil(t, err)
	require.JSONEq(t, `{"verified": true}`, string(env.Response))
}

func TestDeployFailureEnvelope(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "publish", filepath.Join(c.dir, "template"), "s3://source/templates/counter.cta")
	jtest.RequireNil(t, err)

	_, err = c.run(t, "deploy", "c1", "--source", "templates/counter.cta")
	jtest.RequireNil(t, err)

	env, err := c.run(t, "deploy", "c1", "--source", "templates/counter.cta")
	jtest.Require(t, ledgerflow.ErrAlreadyDeployed, err)
	require.Equal(t, ledgerflow.KindAlreadyDeployed, env.Kind)
	require.NotEmpty(t, env.Error)
}

func TestInvalidPayload(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "execute", "c1", "--request", `{"by":`)
	require.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  backend: cassandra\n"), 0o600))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "history", "c1", "c1.state"})

	err := cmd.Execute()
	require.ErrorContains(t, err, "unknown ledger backend")
}
