package amlttest

import (
	"fmt"
	"strings"
)

// ListRow is one experiment line for ListOutput.
type ListRow struct {
	Name     string
	Modified string
	Status   string
	Cluster  string
}

// JobRow is one job line for StatusOutput.
type JobRow struct {
	Index  int
	Name   string
	Status string
}

// ListOutput renders rows the way `amlt list` prints them.
func ListOutput(rows ...ListRow) string {
	var b strings.Builder
	b.WriteString("II Listing experiments for project demo\n")
	line := "%-32s%-12s%-28s%-14s%-10s%-10s%-12s%s\n"
	fmt.Fprintf(&b, line, "EXPERIMENT_NAME", "MODIFIED", "JOB_STATUS", "CLUSTER", "FLAGS", "SIZE", "JOB_URL", "DESCRIPTION")
	fmt.Fprintf(&b, line, "-------------------------------", "-----------", "---------------------------", "-------------", "---------", "---------", "-----------", "-----------")
	for _, r := range rows {
		modified := r.Modified
		if modified == "" {
			modified = "1h ago"
		}
		cluster := r.Cluster
		if cluster == "" {
			cluster = "cluster-a"
		}
		fmt.Fprintf(&b, line, r.Name, modified, r.Status, cluster, "STD", "0 Bytes", "https://job", "demo run")
	}
	return b.String()
}

// StatusOutput renders a job table followed by the experiment summary the
// way `amlt status <id>` prints them. Summary count columns are omitted so
// counts are derived from the jobs.
func StatusOutput(id, cluster string, jobs ...JobRow) string {
	var b strings.Builder
	jobLine := "%-6s%-24s%-12s%-14s%-10s%-12s%-8s%s\n"
	fmt.Fprintf(&b, jobLine, "#", "JOB_NAME", "DURATION", "STATUS", "SIZE", "SUBMITTED", "FLAGS", "PORTAL URL")
	fmt.Fprintf(&b, jobLine, "-----", "-----------------------", "-----------", "-------------", "---------", "-----------", "-------", "----------")
	for _, j := range jobs {
		fmt.Fprintf(&b, jobLine, fmt.Sprintf(":%d", j.Index), j.Name, "1h 2m", j.Status, "0 Bytes", "2h ago", "STD", "https://portal")
	}
	b.WriteString("\n")

	sumLine := "%-32s%-12s%-14s%-12s%-8s%s\n"
	fmt.Fprintf(&b, sumLine, "EXPERIMENT_NAME", "SERVICE", "CLUSTER", "WORKSPACE", "N_JOBS", "DESCRIPTION")
	fmt.Fprintf(&b, sumLine, "-------------------------------", "-----------", "-------------", "-----------", "-------", "-----------")
	fmt.Fprintf(&b, sumLine, id, "sing", cluster, "ws-main", fmt.Sprintf("%d", len(jobs)), "demo run")
	return b.String()
}
