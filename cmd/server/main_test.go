package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/evaluation-engine/api"
	"github.com/warp/evaluation-engine/config"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
)

func TestNewApp_WiresMemoryTransport(t *testing.T) {
	// GIVEN: An in-memory database and the in-process hub
	cfg := config.New()
	cfg.DatabasePath = ":memory:"
	cfg.SweepIntervalS = 0

	a, err := newApp(cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	// WHEN: An evaluation is submitted through the router
	router := api.NewRouter(a.handler, cfg.CORSOrigins)
	body := `{"subject_id":"worker-1","date":"2025-03-10","scores":{"attendance":5,"productivity":5,"quality":5,"safety":5}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/records", strings.NewReader(body)))

	// THEN: It lands in SQLite
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got, err := a.db.FindRecord(context.Background(), evaluation.Key{SubjectID: "worker-1", Date: "2025-03-10"})
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, got.Status)
}

func TestInitDB_CreatesAndResets(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	path := filepath.Join(t.TempDir(), "nested", "evallock.db")

	// GIVEN: A fresh database with one record
	out := runCommand(t, "init-db", "--db", path)
	assert.Contains(t, out, "ready")

	db, err := openStore(path)
	require.NoError(t, err)
	_, err = db.CreateRecord(context.Background(), evaluation.EvaluationRecord{
		ID: "r1", SubjectID: "worker-1", Date: "2025-03-10", Status: evaluation.StatusApproved,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// WHEN: init-db runs with --reset
	out = runCommand(t, "init-db", "--db", path, "--reset")

	// THEN: The record is gone
	assert.Contains(t, out, "reset")
	db, err = openStore(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.GetRecord(context.Background(), "r1")
	assert.ErrorIs(t, err, evaluation.ErrNotFound)
}

func TestRootCommand_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("EVALLOCK_TRANSPORT", "carrier-pigeon")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"init-db", "--db", ":memory:"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&buf)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return buf.String()
}
