package collector

// graphQLQuery is one paginated connection fetched per repository
type graphQLQuery struct {
	// Name is the connection name and the raw file prefix
	Name string
	// Path leads from data.repository to the connection object
	Path  []string
	Query string
}

// GitHubQueries lists the connections ingested for each repository, in
// fetch order
var GitHubQueries = []graphQLQuery{
	{Name: "issues", Path: []string{"issues"}, Query: issuesQuery},
	{Name: "pullRequests", Path: []string{"pullRequests"}, Query: pullsQuery},
	{Name: "commits", Path: []string{"defaultBranchRef", "target", "history"}, Query: commitsQuery},
	{Name: "forks", Path: []string{"forks"}, Query: forksQuery},
	{Name: "stargazers", Path: []string{"stargazers"}, Query: stargazersQuery},
	{Name: "watchers", Path: []string{"watchers"}, Query: watchersQuery},
}

const issuesQuery = `
query($owner: String!, $repo: String!, $num_items: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    issues(first: $num_items, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          title
          number
          id
          url
          labels(first: 10) { edges { node { name } } }
          state
          stateReason
          closed
          body
          comments(first: 10) { edges { node { body author { login } } } }
          createdAt
          updatedAt
          closedAt
          author { login }
        }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}`

const pullsQuery = `
query($owner: String!, $repo: String!, $num_items: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(first: $num_items, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          title
          number
          id
          url
          labels(first: 10) { edges { node { name } } }
          createdAt
          updatedAt
          closedAt
          mergedAt
          author { login }
        }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}`

const forksQuery = `
query($owner: String!, $repo: String!, $num_items: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    forks(first: $num_items, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          owner { login }
          name
          createdAt
          updatedAt
        }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}`

const commitsQuery = `
query($owner: String!, $repo: String!, $num_items: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: $num_items, after: $cursor) {
            edges {
              node {
                ... on Commit {
                  oid
                  id
                  message
                  author { name email date }
                  committer { name email date }
                  authoredDate
                  committedDate
                  additions
                  deletions
                  messageHeadline
                  messageBody
                }
              }
            }
            pageInfo { endCursor hasNextPage }
          }
        }
      }
    }
  }
}`

const stargazersQuery = `
query($owner: String!, $repo: String!, $num_items: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    stargazers(first: $num_items, after: $cursor, orderBy: {field: STARRED_AT, direction: DESC}) {
      edges {
        starredAt
        node {
          ... on User {
            id
            login
            name
            bio
            company
            createdAt
            updatedAt
          }
        }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}`

const watchersQuery = `
query($owner: String!, $repo: String!, $num_items: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    watchers(first: $num_items, after: $cursor) {
      edges {
        node {
          ... on User {
            id
            login
            name
            company
            createdAt
            updatedAt
          }
        }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}`
