package amlt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/status"
)

const listOutput = `II Using project demo
EXPERIMENT_NAME    MODIFIED    JOB_STATUS              CLUSTER      FLAGS    SIZE       JOB_URL      DESCRIPTION
-----------------  ----------  ----------------------  -----------  -------  ---------  -----------  -----------------
winning-joey       1d ago      Running (1)             cluster-a    STD|HD   0 Bytes    https://a    Data Curation
brave-otter        2h ago      Running (2) Pass (5)    cluster-b    STD      12 MB      https://b    sweep over lr
calm-heron         3w ago      Pass (33)               cluster-a             1 GB       https://c
quiet-lynx         5m ago      queued                  cluster-c
`

const statusOutput = `#     JOB_NAME            DURATION    STATUS        SIZE      SUBMITTED   FLAGS   PORTAL URL
----  ------------------  ----------  ------------  --------  ----------  ------  ------------
:0    n2-sft              3h 10m      pass          0 Bytes   1d ago      STD     https://p/0
:1    data_curation_264   1h 2m       failed        0 Bytes   1d ago      STD     https://p/1
:x    garbage             -           running
:2    data_curation_265   2h          killed        0 Bytes   1d ago      STD     https://p/2

EXPERIMENT_NAME    SERVICE    CLUSTER      WORKSPACE    N_JOBS   DESCRIPTION
-----------------  ---------  -----------  -----------  -------  ---------------
winning-joey       sing       cluster-a    ws-main      3        Data Curation
`

func TestParseList(t *testing.T) {
	exps := ParseList(listOutput)
	require.Len(t, exps, 4)

	joey := exps[0]
	assert.Equal(t, "winning-joey", joey.ID)
	assert.Equal(t, "1d ago", joey.Modified)
	assert.Equal(t, "Running (1)", joey.RawStatus)
	assert.Equal(t, status.Running, joey.Status)
	assert.Equal(t, 1, joey.JobCount)
	assert.Equal(t, "cluster-a", joey.Cluster)
	assert.Equal(t, "STD|HD", joey.Flags)
	assert.Equal(t, "Data Curation", joey.Description)

	otter := exps[1]
	assert.Equal(t, status.Running, otter.Status)
	assert.Equal(t, 7, otter.JobCount)
	assert.Equal(t, status.Counts{Running: 2, Pass: 5}, otter.Counts)
	assert.Equal(t, "sweep over lr", otter.Description)

	heron := exps[2]
	assert.Equal(t, status.Pass, heron.Status)
	assert.True(t, heron.IsTerminal())
	assert.Equal(t, "", heron.Flags)
	assert.Equal(t, "", heron.Description)
	assert.Equal(t, 3*7*24*60, heron.AgeMinutes())

	lynx := exps[3]
	assert.Equal(t, "queued", lynx.Status)
	assert.Equal(t, 1, lynx.JobCount)
	assert.True(t, lynx.IsActive())
}

func TestParseListEmpty(t *testing.T) {
	assert.Empty(t, ParseList(""))
	assert.Empty(t, ParseList("error: not logged in\n"))
}

func TestParseListSkipsPageSeparators(t *testing.T) {
	out := `EXPERIMENT_NAME    MODIFIED    JOB_STATUS              CLUSTER
-----------------  ----------  ----------------------  -----------
winning-joey       1d ago      Running (1)             cluster-a
── page 1 of 2 ──
calm-heron         3w ago      Pass (33)               cluster-a
  ── page 2 of 2 ──
`
	exps := ParseList(out)
	require.Len(t, exps, 2)
	assert.Equal(t, "winning-joey", exps[0].ID)
	assert.Equal(t, "calm-heron", exps[1].ID)
	assert.Equal(t, status.Pass, exps[1].Status)
}

func TestParseStatus(t *testing.T) {
	d, ok := ParseStatus(statusOutput)
	require.True(t, ok)

	assert.Equal(t, "winning-joey", d.ID)
	assert.Equal(t, "sing", d.Service)
	assert.Equal(t, "cluster-a", d.Cluster)
	assert.Equal(t, "ws-main", d.Workspace)
	assert.Equal(t, 3, d.JobCount)
	assert.Equal(t, "Data Curation", d.Description)

	require.Len(t, d.Jobs, 3, "malformed index row is skipped")
	assert.Equal(t, JobRecord{
		Index:     0,
		Name:      "n2-sft",
		Status:    "pass",
		Duration:  "3h 10m",
		Size:      "0 Bytes",
		Submitted: "1d ago",
		Flags:     "STD",
		PortalURL: "https://p/0",
	}, d.Jobs[0])
	assert.Equal(t, 2, d.Jobs[2].Index)

	// No count columns in the summary: counts come from the jobs.
	assert.Equal(t, status.Counts{Pass: 1, Fail: 1, Killed: 1}, d.Counts)

	driver, ok := d.Driver()
	require.True(t, ok)
	assert.Equal(t, "n2-sft", driver.Name)
}

func TestParseStatusSummaryCounts(t *testing.T) {
	text := `#    JOB_NAME   STATUS     SIZE
---  ---------  ---------  ----
:1   a          running    0
:2   b          prep       0

EXPERIMENT_NAME   SERVICE   CLUSTER   WORKSPACE   N_JOBS   RUNNING   PREP   PASS   DESCRIPTION
---------------   -------   -------   ---------   ------   -------   ----   ----   -----------
solo              sing      c1        ws          4        1         1      2      x
`
	d, ok := ParseStatus(text)
	require.True(t, ok)
	assert.Equal(t, 4, d.JobCount)
	assert.Equal(t, status.Counts{Running: 1, Queued: 1, Pass: 2}, d.Counts)
	require.Len(t, d.Jobs, 2)
	assert.Equal(t, "", d.Jobs[0].Duration, "DURATION column is optional")
	_, hasDriver := d.Driver()
	assert.False(t, hasDriver)
}

func TestParseStatusUnknownExperiment(t *testing.T) {
	_, ok := ParseStatus("")
	assert.False(t, ok)

	_, ok = ParseStatus("#  JOB_NAME  STATUS\n:0 a pass\n")
	assert.False(t, ok)
}

func TestParseStatusNJobsDefaultsToJobCount(t *testing.T) {
	text := `#    JOB_NAME   STATUS
:0   a          pass
:1   b          pass

EXPERIMENT_NAME   SERVICE   CLUSTER   N_JOBS
x                 sing      c1        n/a
`
	d, ok := ParseStatus(text)
	require.True(t, ok)
	assert.Equal(t, 2, d.JobCount)
}

func TestParseProjectOutputDir(t *testing.T) {
	text := "PROJECT_NAME        demo\nDEFAULT_OUTPUT_DIR  /mnt/outputs/demo\n"
	dir, ok := ParseProjectOutputDir(text)
	require.True(t, ok)
	assert.Equal(t, "/mnt/outputs/demo", dir)

	_, ok = ParseProjectOutputDir("PROJECT_NAME demo\n")
	assert.False(t, ok)
}

func TestParseTimeAgo(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"5m ago", 5},
		{"2h ago", 120},
		{"3d ago", 4320},
		{"1w ago", 10080},
		{" 10 M ago ", 10},
		{"yesterday", UnknownAge},
		{"", UnknownAge},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTimeAgo(tt.in))
		})
	}
}

func TestSafeInt(t *testing.T) {
	assert.Equal(t, 3, safeInt("3", 0))
	assert.Equal(t, 12, safeInt(" 12 jobs", 0))
	assert.Equal(t, 7, safeInt("", 7))
	assert.Equal(t, 7, safeInt("n/a", 7))
}

func TestParseIndex(t *testing.T) {
	n, ok := parseIndex(":12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	n, ok = parseIndex("3")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	for _, bad := range []string{"", ":", ":x", "-1", "1a"} {
		_, ok := parseIndex(bad)
		assert.False(t, ok, bad)
	}
}
