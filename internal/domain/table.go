package domain

import (
	"fmt"
	"strings"
)

// Source identifies an upstream system the pipeline ingests from
type Source string

const (
	SourceGitHub Source = "gh"
	SourcePyPI   Source = "pypi"
	SourceDocs   Source = "docs"
	SourceZulip  Source = "zulip"
)

// AllSources lists every source in pipeline order
var AllSources = []Source{SourceGitHub, SourcePyPI, SourceDocs, SourceZulip}

// ParseSource validates a source name
func ParseSource(s string) (Source, error) {
	for _, src := range AllSources {
		if string(src) == strings.ToLower(strings.TrimSpace(s)) {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Table names a finalized table in the catalog
type Table string

const (
	TableGHStars       Table = "gh_stars"
	TableGHForks       Table = "gh_forks"
	TableGHIssues      Table = "gh_issues"
	TableGHPRs         Table = "gh_prs"
	TableGHCommits     Table = "gh_commits"
	TableGHWatchers    Table = "gh_watchers"
	TablePyPIDownloads Table = "pypi_downloads"
	TableDocs          Table = "docs"
	TableZulipMembers  Table = "zulip_members"
	TableZulipMessages Table = "zulip_messages"
)

// TableInfo describes how the dashboard reads a finalized table
type TableInfo struct {
	Name   Table
	Source Source
	Title  string

	// TimeColumn is the event time used for ranges and rolling windows
	TimeColumn string
	// ValueColumn is summed instead of counting rows when set
	ValueColumn string
	// RunningColumn holds the running total derived in transform
	RunningColumn string
	// GroupColumns may be used to split truncated counts
	GroupColumns []string
}

// Tables lists every finalized table
var Tables = []TableInfo{
	{Name: TableGHStars, Source: SourceGitHub, Title: "Stars", TimeColumn: "starred_at", RunningColumn: "total_stars", GroupColumns: []string{"repo_name", "company"}},
	{Name: TableGHForks, Source: SourceGitHub, Title: "Forks", TimeColumn: "created_at", RunningColumn: "total_forks", GroupColumns: []string{"repo_name"}},
	{Name: TableGHIssues, Source: SourceGitHub, Title: "Issues", TimeColumn: "created_at", RunningColumn: "total_issues", GroupColumns: []string{"repo_name", "state", "is_first_issue"}},
	{Name: TableGHPRs, Source: SourceGitHub, Title: "Pull requests", TimeColumn: "created_at", RunningColumn: "total_pulls", GroupColumns: []string{"repo_name", "state", "is_first_pull"}},
	{Name: TableGHCommits, Source: SourceGitHub, Title: "Commits", TimeColumn: "committed_date", RunningColumn: "total_commits", GroupColumns: []string{"repo_name"}},
	{Name: TableGHWatchers, Source: SourceGitHub, Title: "Watchers", TimeColumn: "updated_at", RunningColumn: "total_watchers", GroupColumns: []string{"repo_name"}},
	{Name: TablePyPIDownloads, Source: SourcePyPI, Title: "Downloads", TimeColumn: "timestamp", ValueColumn: "downloads", GroupColumns: []string{"project", "version", "python", "system", "country_code"}},
	{Name: TableDocs, Source: SourceDocs, Title: "Docs page views", TimeColumn: "timestamp", GroupColumns: []string{"path", "browser", "system"}},
	{Name: TableZulipMembers, Source: SourceZulip, Title: "Zulip members", TimeColumn: "date_joined", RunningColumn: "total_members", GroupColumns: []string{"timezone"}},
	{Name: TableZulipMessages, Source: SourceZulip, Title: "Zulip messages", TimeColumn: "timestamp", RunningColumn: "total_messages", GroupColumns: []string{"display_recipient", "sender_full_name"}},
}

// LookupTable returns the table description for a name
func LookupTable(name string) (TableInfo, bool) {
	for _, t := range Tables {
		if string(t.Name) == name {
			return t, true
		}
	}
	return TableInfo{}, false
}

// TablesForSource returns the finalized tables fed by a source
func TablesForSource(src Source) []TableInfo {
	var out []TableInfo
	for _, t := range Tables {
		if t.Source == src {
			out = append(out, t)
		}
	}
	return out
}

// AllowsGroup reports whether column may be used to split counts
func (t TableInfo) AllowsGroup(column string) bool {
	for _, c := range t.GroupColumns {
		if c == column {
			return true
		}
	}
	return false
}
