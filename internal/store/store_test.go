package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/investigator/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var t0 = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func seedType(t *testing.T, s Store, code string) *model.InvestigatorType {
	t.Helper()
	typ, err := s.UpsertType(context.Background(), model.InvestigatorType{
		Code:                 code,
		DisplayName:          code + " checks",
		DefaultConfiguration: json.RawMessage(`{"maxTaxRatio":0.5}`),
		IsActive:             true,
	})
	require.NoError(t, err)
	return typ
}

func seedInstance(t *testing.T, s Store, typ *model.InvestigatorType, name string) *model.Instance {
	t.Helper()
	inst, err := s.CreateInstance(context.Background(), model.Instance{
		TypeID:     typ.ID,
		CustomName: name,
		IsActive:   true,
	})
	require.NoError(t, err)
	return inst
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertTypeIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := seedType(t, s, "invoice")
		second, err := s.UpsertType(ctx, model.InvestigatorType{Code: "invoice", DisplayName: "Invoices", IsActive: true})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		types, err := s.ListTypes(ctx)
		require.NoError(t, err)
		require.Len(t, types, 1)
		assert.Equal(t, "Invoices", types[0].DisplayName)
		assert.Nil(t, types[0].DefaultConfiguration)
	})

	t.Run("CreateAndGetInstance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typ := seedType(t, s, "invoice")

		inst, err := s.CreateInstance(ctx, model.Instance{
			TypeID:              typ.ID,
			CustomName:          "tax watch",
			CustomConfiguration: json.RawMessage(`{"maxTaxRatio":0.2}`),
			IsActive:            true,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, inst.ID)

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "tax watch", got.CustomName)
		assert.Equal(t, "invoice", got.TypeCode)
		assert.JSONEq(t, `{"maxTaxRatio":0.2}`, string(got.CustomConfiguration))
		assert.True(t, got.IsActive)
		assert.Nil(t, got.LastExecutedAt)
	})

	t.Run("DuplicateNameWithinType", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inv := seedType(t, s, "invoice")
		wb := seedType(t, s, "waybill")
		seedInstance(t, s, inv, "nightly")

		_, err := s.CreateInstance(ctx, model.Instance{TypeID: inv.ID, CustomName: "nightly", IsActive: true})
		assert.ErrorIs(t, err, model.ErrDuplicateName)

		// Same name under another type is fine.
		_, err = s.CreateInstance(ctx, model.Instance{TypeID: wb.ID, CustomName: "nightly", IsActive: true})
		assert.NoError(t, err)
	})

	t.Run("GetInstanceNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetInstance(context.Background(), "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("SetInstanceActive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")

		require.NoError(t, s.SetInstanceActive(ctx, inst.ID, false))
		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		assert.ErrorIs(t, s.SetInstanceActive(ctx, "missing", true), model.ErrNotFound)
	})

	t.Run("OpenExecutionGuards", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")

		_, err := s.OpenExecution(ctx, "missing", t0)
		assert.ErrorIs(t, err, model.ErrNotFound)

		exec, err := s.OpenExecution(ctx, inst.ID, t0)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusRunning, exec.Status)

		_, err = s.OpenExecution(ctx, inst.ID, t0)
		assert.ErrorIs(t, err, model.ErrAlreadyRunning)

		require.NoError(t, s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{
			Status: model.ExecutionStatusCompleted, CompletedAt: t0.Add(time.Second),
		}))
		require.NoError(t, s.SetInstanceActive(ctx, inst.ID, false))
		_, err = s.OpenExecution(ctx, inst.ID, t0)
		assert.ErrorIs(t, err, model.ErrInactive)
	})

	t.Run("ConcurrentOpenAdmitsOne", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")

		var wg sync.WaitGroup
		var mu sync.Mutex
		opened := 0
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.OpenExecution(ctx, inst.ID, t0); err == nil {
					mu.Lock()
					opened++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, model.ErrAlreadyRunning)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, opened)
	})

	t.Run("FinishExecution", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")
		exec, err := s.OpenExecution(ctx, inst.ID, t0)
		require.NoError(t, err)

		err = s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{Status: model.ExecutionStatusRunning})
		require.Error(t, err)

		require.NoError(t, s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{
			Status:       model.ExecutionStatusFailed,
			CompletedAt:  t0.Add(time.Minute),
			ResultCount:  2,
			ErrorMessage: "boom",
		}))

		got, err := s.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusFailed, got.Status)
		assert.Equal(t, 2, got.ResultCount)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "boom", *got.ErrorMessage)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(t0.Add(time.Minute)))

		// Terminal executions never transition again.
		err = s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{Status: model.ExecutionStatusCompleted, CompletedAt: t0})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("AppendListAndCountResults", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")
		exec, err := s.OpenExecution(ctx, inst.ID, t0)
		require.NoError(t, err)

		for i, id := range []string{"inv-1", "inv-2", "inv-3"} {
			r, err := s.AppendResult(ctx, model.Result{
				ExecutionID: exec.ID,
				Timestamp:   t0.Add(time.Duration(i) * time.Second),
				Severity:    model.SeverityAnomaly,
				Message:     "check " + id,
				EntityType:  model.EntityInvoice,
				EntityID:    id,
				Payload:     json.RawMessage(`{"rule":"tax_ratio"}`),
			})
			require.NoError(t, err)
			assert.NotZero(t, r.ID)
		}

		n, err := s.CountResults(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		results, err := s.ListResults(ctx, inst.ID, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "inv-3", results[0].EntityID, "newest first")
		assert.JSONEq(t, `{"rule":"tax_ratio"}`, string(results[0].Payload))
	})

	t.Run("AppendResultWithSeqIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")
		exec, err := s.OpenExecution(ctx, inst.ID, t0)
		require.NoError(t, err)

		row := model.Result{
			ExecutionID: exec.ID, Seq: 1, Timestamp: t0, Severity: model.SeverityAnomaly,
			Message: "m", EntityType: model.EntityInvoice, EntityID: "inv-1",
		}
		first, err := s.AppendResult(ctx, row)
		require.NoError(t, err)
		again, err := s.AppendResult(ctx, row)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		row.Seq = 2
		_, err = s.AppendResult(ctx, row)
		require.NoError(t, err)

		n, err := s.CountResults(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		results, err := s.ListResults(ctx, inst.ID, 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.ElementsMatch(t, []int{1, 2}, []int{results[0].Seq, results[1].Seq})
	})

	t.Run("FailOrphanedExecutions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typ := seedType(t, s, "invoice")
		a := seedInstance(t, s, typ, "a")
		b := seedInstance(t, s, typ, "b")

		orphan, err := s.OpenExecution(ctx, a.ID, t0)
		require.NoError(t, err)
		for seq := 1; seq <= 2; seq++ {
			_, err = s.AppendResult(ctx, model.Result{
				ExecutionID: orphan.ID, Seq: seq, Timestamp: t0, Severity: model.SeverityInfo,
				Message: "m", EntityType: model.EntityInvoice, EntityID: "inv-1",
			})
			require.NoError(t, err)
		}
		done, err := s.OpenExecution(ctx, b.ID, t0)
		require.NoError(t, err)
		require.NoError(t, s.FinishExecution(ctx, done.ID, model.ExecutionOutcome{
			Status: model.ExecutionStatusCompleted, CompletedAt: t0,
		}))

		n, err := s.FailOrphanedExecutions(ctx, t0.Add(time.Hour), "interrupted")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetExecution(ctx, orphan.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusFailed, got.Status)
		assert.Equal(t, 2, got.ResultCount)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "interrupted", *got.ErrorMessage)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(t0.Add(time.Hour)))

		untouched, err := s.GetExecution(ctx, done.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusCompleted, untouched.Status)

		running, err := s.HasRunningExecution(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, running)

		n, err = s.FailOrphanedExecutions(ctx, t0.Add(time.Hour), "interrupted")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ListInstancesReportsLatestExecution", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typ := seedType(t, s, "invoice")
		idle := seedInstance(t, s, typ, "idle one")
		busy := seedInstance(t, s, typ, "busy one")

		exec, err := s.OpenExecution(ctx, busy.ID, t0)
		require.NoError(t, err)
		require.NoError(t, s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{
			Status: model.ExecutionStatusCompleted, CompletedAt: t0, ResultCount: 4,
		}))
		_, err = s.OpenExecution(ctx, busy.ID, t0.Add(time.Hour))
		require.NoError(t, err)

		views, err := s.ListInstances(ctx, InstanceFilter{})
		require.NoError(t, err)
		require.Len(t, views, 2)

		byID := map[string]model.InstanceView{}
		for _, v := range views {
			byID[v.ID] = v
		}
		assert.Equal(t, model.InstanceStatusIdle, byID[idle.ID].Status)
		assert.Equal(t, 0, byID[idle.ID].ResultCount)
		assert.Equal(t, string(model.ExecutionStatusRunning), byID[busy.ID].Status)
	})

	t.Run("ListInstancesFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inv := seedType(t, s, "invoice")
		wb := seedType(t, s, "waybill")
		seedInstance(t, s, inv, "a")
		off := seedInstance(t, s, inv, "b")
		seedInstance(t, s, wb, "c")
		require.NoError(t, s.SetInstanceActive(ctx, off.ID, false))

		views, err := s.ListInstances(ctx, InstanceFilter{TypeCode: "invoice"})
		require.NoError(t, err)
		assert.Len(t, views, 2)

		views, err = s.ListInstances(ctx, InstanceFilter{TypeCode: "invoice", ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "a", views[0].CustomName)
	})

	t.Run("DeleteInstanceCascades", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")
		exec, err := s.OpenExecution(ctx, inst.ID, t0)
		require.NoError(t, err)
		_, err = s.AppendResult(ctx, model.Result{
			ExecutionID: exec.ID, Timestamp: t0, Severity: model.SeverityInfo,
			Message: "m", EntityType: model.EntityInvoice, EntityID: "inv-1",
		})
		require.NoError(t, err)

		assert.ErrorIs(t, s.DeleteInstance(ctx, inst.ID), model.ErrInUse)

		require.NoError(t, s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{
			Status: model.ExecutionStatusCompleted, CompletedAt: t0, ResultCount: 1,
		}))
		require.NoError(t, s.DeleteInstance(ctx, inst.ID))

		_, err = s.GetExecution(ctx, exec.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
		n, err := s.CountResults(ctx, exec.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		assert.ErrorIs(t, s.DeleteInstance(ctx, inst.ID), model.ErrNotFound)
	})

	t.Run("RecountExecution", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")
		exec, err := s.OpenExecution(ctx, inst.ID, t0)
		require.NoError(t, err)
		for _, id := range []string{"inv-1", "inv-2"} {
			_, err := s.AppendResult(ctx, model.Result{
				ExecutionID: exec.ID, Timestamp: t0, Severity: model.SeverityInfo,
				Message: "m", EntityType: model.EntityInvoice, EntityID: id,
			})
			require.NoError(t, err)
		}

		changed, err := s.RecountExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.False(t, changed, "running executions are never corrected")

		require.NoError(t, s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{
			Status: model.ExecutionStatusCompleted, CompletedAt: t0, ResultCount: 7,
		}))

		changed, err = s.RecountExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := s.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ResultCount)

		changed, err = s.RecountExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("ListExecutions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inst := seedInstance(t, s, seedType(t, s, "invoice"), "a")

		var ids []int64
		for i := range 3 {
			exec, err := s.OpenExecution(ctx, inst.ID, t0.Add(time.Duration(i)*time.Hour))
			require.NoError(t, err)
			ids = append(ids, exec.ID)
			if i < 2 {
				require.NoError(t, s.FinishExecution(ctx, exec.ID, model.ExecutionOutcome{
					Status: model.ExecutionStatusCompleted, CompletedAt: t0,
				}))
			}
		}

		all, err := s.ListExecutions(ctx, ExecutionFilter{InstanceID: inst.ID})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID, "newest first")

		terminal, err := s.ListExecutions(ctx, ExecutionFilter{TerminalOnly: true, AfterID: ids[0], Ascending: true, Limit: 10})
		require.NoError(t, err)
		require.Len(t, terminal, 1)
		assert.Equal(t, ids[1], terminal[0].ID)

		running, err := s.HasRunningExecution(ctx, inst.ID)
		require.NoError(t, err)
		assert.True(t, running)
	})

	t.Run("Summary", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typ := seedType(t, s, "invoice")
		a := seedInstance(t, s, typ, "a")
		b := seedInstance(t, s, typ, "b")
		require.NoError(t, s.SetInstanceActive(ctx, b.ID, false))

		exec, err := s.OpenExecution(ctx, a.ID, t0)
		require.NoError(t, err)
		_, err = s.AppendResult(ctx, model.Result{
			ExecutionID: exec.ID, Timestamp: t0, Severity: model.SeverityCritical,
			Message: "m", EntityType: model.EntityInvoice, EntityID: "inv-1",
		})
		require.NoError(t, err)

		sum, err := s.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Summary{
			TotalInstances:   2,
			ActiveInstances:  1,
			RunningInstances: 1,
			TotalExecutions:  1,
			TotalResults:     1,
		}, *sum)
	})

	t.Run("ReplaceAndLoadDataset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		due := t0.AddDate(0, 0, 3)

		n, err := s.ReplaceInvoices(ctx, []model.Invoice{
			{ID: "inv-2", Number: "F-2", TotalAmount: 100, TotalTax: 80, IssueDate: t0},
			{ID: "inv-1", Number: "F-1", TotalAmount: 50, TotalTax: 5, IssueDate: t0},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.ReplaceWaybills(ctx, []model.Waybill{
			{ID: "wb-1", Number: "W-1", GoodsIssueDate: t0, DueDate: &due},
			{ID: "wb-2", Number: "W-2", GoodsIssueDate: t0},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ds, err := s.LoadDataset(ctx, model.EntityInvoice)
		require.NoError(t, err)
		require.Len(t, ds.Invoices, 2)
		assert.Equal(t, "inv-1", ds.Invoices[0].ID)
		assert.InDelta(t, 80.0, ds.Invoices[1].TotalTax, 1e-9)
		assert.Empty(t, ds.Waybills)

		ds, err = s.LoadDataset(ctx, model.EntityWaybill)
		require.NoError(t, err)
		require.Len(t, ds.Waybills, 2)
		require.NotNil(t, ds.Waybills[0].DueDate)
		assert.True(t, ds.Waybills[0].DueDate.Equal(due))
		assert.Nil(t, ds.Waybills[1].DueDate)

		// A second import replaces, not appends.
		_, err = s.ReplaceInvoices(ctx, []model.Invoice{{ID: "inv-9", Number: "F-9", IssueDate: t0}})
		require.NoError(t, err)
		ds, err = s.LoadDataset(ctx, model.EntityInvoice)
		require.NoError(t, err)
		require.Len(t, ds.Invoices, 1)

		_, err = s.LoadDataset(ctx, model.EntityKind("ledger"))
		assert.Error(t, err)
	})
}
