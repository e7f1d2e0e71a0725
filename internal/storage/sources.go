package storage

import (
	"strings"

	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// EncodeSources flattens sources for a single text column
func EncodeSources(sources []domain.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// DecodeSources reverses EncodeSources
func DecodeSources(s string) []domain.Source {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	sources := make([]domain.Source, len(parts))
	for i, p := range parts {
		sources[i] = domain.Source(p)
	}
	return sources
}
