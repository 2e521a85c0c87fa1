package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveStoreOp(t *testing.T) {
	ok := testutil.ToFloat64(StoreOpsTotal.WithLabelValues("probe", "ok"))
	failed := testutil.ToFloat64(StoreOpsTotal.WithLabelValues("probe", "error"))

	ObserveStoreOp("probe", time.Now(), nil)
	ObserveStoreOp("probe", time.Now(), nil)
	ObserveStoreOp("probe", time.Now(), errors.New("boom"))

	require.Equal(t, ok+2, testutil.ToFloat64(StoreOpsTotal.WithLabelValues("probe", "ok")))
	require.Equal(t, failed+1, testutil.ToFloat64(StoreOpsTotal.WithLabelValues("probe", "error")))
}

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(RoomsActive))
	for _, c := range Collectors()[1:] {
		require.NoError(t, reg.Register(c))
	}
	require.Len(t, Collectors(), 8)
}
