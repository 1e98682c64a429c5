package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/oicur0t/logcollect/internal/testutils"
	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a, b;;c ,"))
	assert.Empty(t, SplitList(" ; , "))
}

func TestHostsDefaultsToLocal(t *testing.T) {
	assert.Equal(t, []string{""}, Hosts(""))
	assert.Equal(t, []string{""}, Hosts(" ; "))
}

func TestHostsDedupesCaseInsensitively(t *testing.T) {
	assert.Equal(t, []string{"web-01", "DB-01"}, Hosts("web-01;DB-01, WEB-01 ,db-01"))
}

func TestHostsDedupesByDisplayForm(t *testing.T) {
	assert.Equal(t,
		[]string{"mongodb://reader:one@db:27017", "web-01"},
		Hosts("mongodb://reader:one@db:27017;web-01;mongodb://admin:two@db:27017"))
}

func TestResolveHostEnumeratesSortedLogs(t *testing.T) {
	opener := testutils.NewFakeOpener()
	opener.Host("web-01").
		AddRecords("system").
		AddRecords("application").
		AddRecords("security")

	r := NewResolver(opener, 0, zap.NewNop())
	ht := r.ResolveHost(context.Background(), "web-01", "")
	require.NoError(t, ht.Err)
	assert.Equal(t, []models.Target{
		{Host: "web-01", LogName: "application"},
		{Host: "web-01", LogName: "security"},
		{Host: "web-01", LogName: "system"},
	}, ht.Targets)
}

func TestResolveHostUsesExplicitLogsVerbatim(t *testing.T) {
	opener := testutils.NewFakeOpener()
	opener.Host("web-01").FailLogNames(errors.New("must not enumerate"))

	r := NewResolver(opener, 0, zap.NewNop())
	ht := r.ResolveHost(context.Background(), "web-01", "system; missing ,system")
	require.NoError(t, ht.Err)
	assert.Equal(t, []models.Target{
		{Host: "web-01", LogName: "missing"},
		{Host: "web-01", LogName: "system"},
	}, ht.Targets)
}

func TestResolveSkipsHostsThatFail(t *testing.T) {
	opener := testutils.NewFakeOpener()
	opener.Host("web-01").AddRecords("app")
	opener.Host("web-02").FailLogNames(errors.New("access denied"))
	opener.FailOpen("web-03", errors.New("connection refused"))

	r := NewResolver(opener, 0, zap.NewNop())
	targets, failed := r.Resolve(context.Background(), "web-01,web-02,web-03", "")

	assert.Equal(t, []models.Target{{Host: "web-01", LogName: "app"}}, targets)
	require.Len(t, failed, 2)
	assert.ErrorContains(t, failed["web-02"], "access denied")
	assert.ErrorContains(t, failed["web-03"], "connection refused")
	assert.True(t, opener.Host("web-01").IsClosed())
}
