package db

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describe(c prometheus.Collector) []string {
	ch := make(chan *prometheus.Desc, 10)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var out []string
	for d := range ch {
		out = append(out, d.String())
	}
	return out
}

func TestPoolCollector_Describe(t *testing.T) {
	descs := describe(NewPoolCollector(nil, "penf_crm", "crm"))

	want := []string{
		"penf_crm_db_pool_total_conns",
		"penf_crm_db_pool_idle_conns",
		"penf_crm_db_pool_acquired_conns",
		"penf_crm_db_pool_max_conns",
		"penf_crm_db_pool_acquires_total",
	}
	require.Len(t, descs, len(want))
	for i, name := range want {
		assert.Contains(t, descs[i], `fqName: "`+name+`"`)
		assert.Contains(t, descs[i], `database="crm"`)
	}
}

func TestPoolCollector_NilPoolCollectsNothing(t *testing.T) {
	assert.Equal(t, 0, testutil.CollectAndCount(NewPoolCollector(nil, "penf_crm", "crm")))
}

func TestPoolCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewPoolCollector(nil, "penf_crm", "crm"))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestRegisterPoolCollector_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := RegisterPoolCollector(reg, nil, "penf_crm", "crm")
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = RegisterPoolCollector(reg, nil, "penf_crm", "crm")
	assert.NoError(t, err)

	_, err = reg.Gather()
	assert.NoError(t, err)
}
