package etl

import (
	"fmt"
	"strings"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/collector"
	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// Asset describes how one finalized table is built from raw files
type Asset struct {
	Table  domain.Table
	Source domain.Source

	// Glob locates the raw files
	Glob func(raw *collector.RawStore) string
	// Read returns a SELECT over the raw files matched by glob
	Read func(glob string) string
	// Key lists the natural key as expressions over the staging table
	Key []string
	// Transform is a text/template producing a SELECT over {{.Input}}, the
	// deduplicated staging rows
	Transform string
}

// StagingTable is where extracts accumulate
func (a Asset) StagingTable() string {
	return "extract_" + string(a.Table)
}

// TransformTable holds the transform output before it is loaded
func (a Asset) TransformTable() string {
	return "transform_" + string(a.Table)
}

func githubGlob(query string) func(*collector.RawStore) string {
	return func(raw *collector.RawStore) string { return raw.GitHubGlob(query) }
}

// readGitHub reads GraphQL edge pages and derives repo_name from the
// partition directory
func readGitHub(columns string) func(string) string {
	return func(glob string) string {
		return fmt.Sprintf(`SELECT * EXCLUDE (filename), regexp_extract(filename, 'repo_name=([^/\\]+)', 1) AS repo_name
FROM read_json(%s, format = 'array', filename = true, columns = %s)`, catalog.QuoteLiteral(glob), columns)
	}
}

func readJSONArray(columns string) func(string) string {
	return func(glob string) string {
		return fmt.Sprintf("SELECT * FROM read_json(%s, format = 'array', columns = %s)", catalog.QuoteLiteral(glob), columns)
	}
}

func readCSV(glob string) string {
	return fmt.Sprintf("SELECT * FROM read_csv(%s, header = true, all_varchar = true)", catalog.QuoteLiteral(glob))
}

func readParquet(glob string) string {
	return fmt.Sprintf("SELECT * FROM read_parquet(%s, union_by_name = true)", catalog.QuoteLiteral(glob))
}

const (
	userStruct   = `STRUCT(id VARCHAR, login VARCHAR, name VARCHAR, bio VARCHAR, company VARCHAR, "createdAt" VARCHAR, "updatedAt" VARCHAR)`
	labelsStruct = `STRUCT(edges STRUCT(node STRUCT(name VARCHAR))[])`
)

var (
	issuesColumns = `{'node': 'STRUCT(title VARCHAR, number BIGINT, id VARCHAR, url VARCHAR, labels ` + labelsStruct +
		`, state VARCHAR, "stateReason" VARCHAR, closed BOOLEAN, body VARCHAR, comments STRUCT(edges STRUCT(node STRUCT(body VARCHAR, author STRUCT(login VARCHAR)))[])` +
		`, "createdAt" VARCHAR, "updatedAt" VARCHAR, "closedAt" VARCHAR, author STRUCT(login VARCHAR))'}`

	pullsColumns = `{'node': 'STRUCT(title VARCHAR, number BIGINT, id VARCHAR, url VARCHAR, labels ` + labelsStruct +
		`, "createdAt" VARCHAR, "updatedAt" VARCHAR, "closedAt" VARCHAR, "mergedAt" VARCHAR, author STRUCT(login VARCHAR))'}`

	forksColumns = `{'node': 'STRUCT(owner STRUCT(login VARCHAR), name VARCHAR, "createdAt" VARCHAR, "updatedAt" VARCHAR)'}`

	commitsColumns = `{'node': 'STRUCT(oid VARCHAR, id VARCHAR, message VARCHAR, author STRUCT(name VARCHAR, email VARCHAR, date VARCHAR), committer STRUCT(name VARCHAR, email VARCHAR, date VARCHAR)` +
		`, "authoredDate" VARCHAR, "committedDate" VARCHAR, additions BIGINT, deletions BIGINT, "messageHeadline" VARCHAR, "messageBody" VARCHAR)'}`

	stargazersColumns = `{'starredAt': 'VARCHAR', 'node': '` + userStruct + `'}`

	watchersColumns = `{'node': '` + userStruct + `'}`

	membersColumns = `{'user_id': 'BIGINT', 'email': 'VARCHAR', 'full_name': 'VARCHAR', 'date_joined': 'VARCHAR', 'is_bot': 'BOOLEAN', 'is_active': 'BOOLEAN', 'is_admin': 'BOOLEAN', 'role': 'BIGINT', 'timezone': 'VARCHAR'}`

	messagesColumns = `{'id': 'BIGINT', 'sender_id': 'BIGINT', 'sender_full_name': 'VARCHAR', 'sender_email': 'VARCHAR', 'type': 'VARCHAR', 'stream_id': 'BIGINT', 'display_recipient': 'VARCHAR', 'subject': 'VARCHAR', 'content': 'VARCHAR', 'client': 'VARCHAR', 'timestamp': 'BIGINT', 'last_edit_timestamp': 'BIGINT'}`
)

const running = "ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW"

// Assets lists every table in pipeline order
var Assets = []Asset{
	{
		Table:  domain.TableGHStars,
		Source: domain.SourceGitHub,
		Glob:   githubGlob("stargazers"),
		Read:   readGitHub(stargazersColumns),
		Key:    []string{"repo_name", "node.login"},
		Transform: `
SELECT *, count(*) OVER (PARTITION BY repo_name ORDER BY starred_at ` + running + `) AS total_stars
FROM (
	SELECT
		extracted_at,
		repo_name,
		node.login AS login,
		node.id AS id,
		node.name AS name,
		node.bio AS bio,
		coalesce(node.company, 'Unknown') AS company,
		TRY_CAST(starred_at AS TIMESTAMP) AS starred_at,
		TRY_CAST(node."createdAt" AS TIMESTAMP) AS created_at,
		TRY_CAST(node."updatedAt" AS TIMESTAMP) AS updated_at
	FROM {{.Input}}
)
ORDER BY repo_name, starred_at DESC`,
	},
	{
		Table:  domain.TableGHForks,
		Source: domain.SourceGitHub,
		Glob:   githubGlob("forks"),
		Read:   readGitHub(forksColumns),
		Key:    []string{"repo_name", "node.owner.login", "node.name"},
		Transform: `
SELECT *, count(*) OVER (PARTITION BY repo_name ORDER BY created_at ` + running + `) AS total_forks
FROM (
	SELECT
		extracted_at,
		repo_name,
		node.owner.login AS login,
		node.name AS name,
		TRY_CAST(node."createdAt" AS TIMESTAMP) AS created_at,
		TRY_CAST(node."updatedAt" AS TIMESTAMP) AS updated_at
	FROM {{.Input}}
)
ORDER BY repo_name, created_at DESC`,
	},
	{
		Table:  domain.TableGHIssues,
		Source: domain.SourceGitHub,
		Glob:   githubGlob("issues"),
		Read:   readGitHub(issuesColumns),
		Key:    []string{"repo_name", "node.number"},
		Transform: `
SELECT
	repo_name,
	login,
	created_at,
	* EXCLUDE (repo_name, login, created_at),
	CASE WHEN is_closed THEN 'closed' ELSE 'open' END AS state,
	count(*) OVER (PARTITION BY login, repo_name ORDER BY created_at ` + running + `) AS total_issues,
	row_number() OVER (PARTITION BY login, repo_name ORDER BY created_at) = 1 AS is_first_issue
FROM (
	SELECT
		extracted_at,
		repo_name,
		node.author.login AS login,
		TRY_CAST(node."createdAt" AS TIMESTAMP) AS created_at,
		node.number AS number,
		node.id AS id,
		node.title AS title,
		node.url AS url,
		node.body AS body,
		node."stateReason" AS state_reason,
		list_transform(node.labels.edges, x -> x.node.name) AS labels,
		len(node.comments.edges) AS comments,
		TRY_CAST(node."updatedAt" AS TIMESTAMP) AS updated_at,
		TRY_CAST(node."closedAt" AS TIMESTAMP) AS closed_at,
		node."closedAt" IS NOT NULL AS is_closed
	FROM {{.Input}}
	{{- if .BotLogins}}
	WHERE coalesce(node.author.login, '') NOT IN ({{strings .BotLogins}})
	{{- end}}
)
ORDER BY repo_name, created_at DESC`,
	},
	{
		Table:  domain.TableGHPRs,
		Source: domain.SourceGitHub,
		Glob:   githubGlob("pullRequests"),
		Read:   readGitHub(pullsColumns),
		Key:    []string{"repo_name", "node.number"},
		Transform: `
SELECT
	repo_name,
	login,
	created_at,
	* EXCLUDE (repo_name, login, created_at),
	CASE WHEN is_merged THEN 'merged' WHEN is_closed THEN 'closed' ELSE 'open' END AS state,
	count(*) OVER (PARTITION BY login, repo_name ORDER BY created_at ` + running + `) AS total_pulls,
	row_number() OVER (PARTITION BY login, repo_name ORDER BY created_at) = 1 AS is_first_pull
FROM (
	SELECT
		extracted_at,
		repo_name,
		node.author.login AS login,
		TRY_CAST(node."createdAt" AS TIMESTAMP) AS created_at,
		node.number AS number,
		node.id AS id,
		node.title AS title,
		node.url AS url,
		list_transform(node.labels.edges, x -> x.node.name) AS labels,
		TRY_CAST(node."updatedAt" AS TIMESTAMP) AS updated_at,
		TRY_CAST(node."closedAt" AS TIMESTAMP) AS closed_at,
		TRY_CAST(node."mergedAt" AS TIMESTAMP) AS merged_at,
		node."mergedAt" IS NOT NULL AS is_merged,
		node."closedAt" IS NOT NULL AS is_closed
	FROM {{.Input}}
	{{- if .BotLogins}}
	WHERE coalesce(node.author.login, '') NOT IN ({{strings .BotLogins}})
	{{- end}}
)
ORDER BY repo_name, created_at DESC`,
	},
	{
		Table:  domain.TableGHCommits,
		Source: domain.SourceGitHub,
		Glob:   githubGlob("commits"),
		Read:   readGitHub(commitsColumns),
		Key:    []string{"repo_name", "node.oid"},
		Transform: `
SELECT *, count(*) OVER (PARTITION BY repo_name ORDER BY committed_date ` + running + `) AS total_commits
FROM (
	SELECT
		extracted_at,
		repo_name,
		node.oid AS oid,
		node.id AS id,
		node.author.name AS name,
		node.author.email AS email,
		node.committer.name AS committer_name,
		node."messageHeadline" AS message_headline,
		node."messageBody" AS message_body,
		node.additions AS additions,
		node.deletions AS deletions,
		TRY_CAST(node."authoredDate" AS TIMESTAMP) AS authored_date,
		TRY_CAST(node."committedDate" AS TIMESTAMP) AS committed_date
	FROM {{.Input}}
)
ORDER BY committed_date DESC`,
	},
	{
		Table:  domain.TableGHWatchers,
		Source: domain.SourceGitHub,
		Glob:   githubGlob("watchers"),
		Read:   readGitHub(watchersColumns),
		Key:    []string{"repo_name", "node.login"},
		Transform: `
SELECT *, count(*) OVER (PARTITION BY repo_name ORDER BY updated_at ` + running + `) AS total_watchers
FROM (
	SELECT
		extracted_at,
		repo_name,
		node.login AS login,
		node.id AS id,
		node.name AS name,
		node.company AS company,
		TRY_CAST(node."createdAt" AS TIMESTAMP) AS created_at,
		TRY_CAST(node."updatedAt" AS TIMESTAMP) AS updated_at
	FROM {{.Input}}
)
ORDER BY updated_at DESC`,
	},
	{
		Table:  domain.TablePyPIDownloads,
		Source: domain.SourcePyPI,
		Glob:   func(raw *collector.RawStore) string { return raw.PyPIGlob() },
		Read:   readParquet,
		Key:    []string{"project", `"timestamp"`, "country_code", "version", "python", "system"},
		Transform: `
SELECT
	*,
	sum(downloads) OVER (PARTITION BY project, country_code, version, python, system ORDER BY "timestamp" ` + running + `)::BIGINT AS total_downloads
FROM (
	SELECT
		date_trunc('day', TRY_CAST("timestamp" AS TIMESTAMP)) AS "timestamp",
		project,
		coalesce(country_code, '') AS country_code,
		coalesce(
			nullif(regexp_extract(version, '(\d+\.\d+\.\d+)', 1), ''),
			nullif(regexp_extract(version, '(\d+\.\d+)', 1), ''),
			version
		) AS version,
		coalesce(regexp_extract(python, '(\d+\.\d+)', 1), '') AS python,
		coalesce(system, '') AS system,
		sum(downloads)::BIGINT AS downloads,
		max(extracted_at) AS extracted_at
	FROM {{.Input}}
	GROUP BY ALL
)
ORDER BY "timestamp" DESC`,
	},
	{
		Table:  domain.TableDocs,
		Source: domain.SourceDocs,
		Glob:   func(raw *collector.RawStore) string { return raw.DocsGlob() },
		Read:   readCSV,
		Key:    []string{"session", `"2_path"`, `"date"`},
		Transform: `
SELECT
	extracted_at,
	CASE
		WHEN starts_with(clean_path, '/posts') THEN regexp_extract(clean_path, '^/posts/[^/]+', 0)
		ELSE clean_path
	END AS path,
	TRY_CAST("date" AS TIMESTAMP) AS "timestamp",
	* EXCLUDE (extracted_at, clean_path, "2_path", "date")
FROM (
	SELECT *, replace("2_path", '/index.html', '') AS clean_path
	FROM {{.Input}}
)
ORDER BY "timestamp" DESC`,
	},
	{
		Table:  domain.TableZulipMembers,
		Source: domain.SourceZulip,
		Glob:   func(raw *collector.RawStore) string { return raw.ZulipFile(collector.ZulipMember) },
		Read:   readJSONArray(membersColumns),
		Key:    []string{"user_id"},
		Transform: `
SELECT
	full_name,
	date_joined,
	timezone,
	* EXCLUDE (full_name, date_joined, timezone),
	count(*) OVER (ORDER BY date_joined ` + running + `) AS total_members
FROM (
	SELECT * REPLACE (TRY_CAST(date_joined AS TIMESTAMP) AS date_joined)
	FROM {{.Input}}
	WHERE NOT coalesce(is_bot, false)
)
ORDER BY date_joined DESC`,
	},
	{
		Table:  domain.TableZulipMessages,
		Source: domain.SourceZulip,
		Glob:   func(raw *collector.RawStore) string { return raw.ZulipFile(collector.ZulipMsgs) },
		Read:   readJSONArray(messagesColumns),
		Key:    []string{"id"},
		Transform: `
SELECT
	sender_full_name,
	display_recipient,
	subject,
	"timestamp",
	last_edit_timestamp,
	* EXCLUDE (sender_full_name, display_recipient, subject, "timestamp", last_edit_timestamp),
	count(*) OVER (ORDER BY "timestamp" ` + running + `) AS total_messages
FROM (
	SELECT * REPLACE (
		epoch_ms("timestamp" * 1000) AS "timestamp",
		epoch_ms(last_edit_timestamp * 1000) AS last_edit_timestamp
	)
	FROM {{.Input}}
	WHERE coalesce("type", 'stream') = 'stream'
	{{- if .ExcludedStreams}}
		AND coalesce(stream_id, 0) NOT IN ({{ints .ExcludedStreams}})
	{{- end}}
)
ORDER BY "timestamp" DESC`,
	},
}

// LookupAsset returns the asset building table
func LookupAsset(table domain.Table) (Asset, bool) {
	for _, a := range Assets {
		if a.Table == table {
			return a, true
		}
	}
	return Asset{}, false
}

// AssetsFor returns the assets fed by the given sources, in pipeline order
func AssetsFor(sources []domain.Source) []Asset {
	var out []Asset
	for _, a := range Assets {
		for _, s := range sources {
			if a.Source == s {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func sqlStrings(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = catalog.QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}

func sqlInts(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
