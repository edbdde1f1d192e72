// Package graph scores the vault's thought graph: who links to whom, which
// maps hold which thoughts, and which notes have quietly gone orphan.
package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
	"github.com/boshu2/intent/internal/worker"
)

// Node is one markdown note in the graph.
type Node struct {
	Rel        string
	Name       string // canonical link target (lowercased basename, no .md)
	Title      string
	IsMap      bool
	Confidence string
	Created    time.Time
	ModTime    time.Time
	Outgoing   []string // canonical targets, self-links excluded

	// OpenQuestions holds the bullets under a map's "## Open Questions"
	// section. Only populated for maps.
	OpenQuestions []string
}

// Graph is the parsed vault graph.
type Graph struct {
	Nodes    map[string]*Node
	Incoming map[string][]string // target name → linking node names
}

// Node order in incoming lists follows scan order, which is the sorted file
// listing, so results are deterministic.

// Scanner builds graphs from a vault.
type Scanner struct {
	store  *vault.Store
	logger *zap.Logger
	pool   *worker.Pool[*Node]
}

// NewScanner returns a Scanner. Concurrency <=0 uses one worker per CPU.
func NewScanner(store *vault.Store, logger *zap.Logger, concurrency int) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{store: store, logger: logger, pool: worker.NewPool[*Node](concurrency)}
}

// Scan parses thoughts/ and self/ into a graph. Unreadable or unparseable
// notes are skipped with a warning; a broken note never sinks the scan.
func (s *Scanner) Scan(ctx context.Context) (*Graph, error) {
	var files []string
	for _, dir := range []string{vault.ThoughtsDir, vault.SelfDir} {
		list, err := s.store.ListMarkdown(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		files = append(files, list...)
	}

	results := s.pool.ProcessContext(ctx, s.parseNode, files)

	g := &Graph{Nodes: map[string]*Node{}, Incoming: map[string][]string{}}
	for _, r := range results {
		if r.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("note skipped during graph scan", zap.String("file", files[r.Index]), zap.Error(r.Err))
			continue
		}
		if _, dup := g.Nodes[r.Value.Name]; dup {
			s.logger.Warn("duplicate note name, keeping first", zap.String("name", r.Value.Name), zap.String("file", r.Value.Rel))
			continue
		}
		g.Nodes[r.Value.Name] = r.Value
	}

	for _, name := range sortedNames(g.Nodes) {
		node := g.Nodes[name]
		for _, target := range node.Outgoing {
			if _, ok := g.Nodes[target]; !ok {
				continue // dangling link
			}
			g.Incoming[target] = append(g.Incoming[target], node.Name)
		}
	}
	return g, nil
}

func (s *Scanner) parseNode(_ context.Context, rel string) (*Node, error) {
	data, ok, err := s.store.Read(rel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("vanished during scan")
	}

	note, warnings := vault.ParseNote(string(data))
	for _, w := range warnings {
		s.logger.Debug("note parse warning", zap.String("file", rel), zap.String("warning", w))
	}

	info, haveInfo, err := s.store.Stat(rel)
	if err != nil {
		return nil, err
	}

	name := vault.CanonicalLink(rel)
	node := &Node{
		Rel:        rel,
		Name:       name,
		Title:      vault.FrontmatterString(note.Frontmatter, "description"),
		IsMap:      vault.FrontmatterString(note.Frontmatter, "type") == "map",
		Confidence: vault.FrontmatterString(note.Frontmatter, "confidence"),
	}
	if node.Title == "" {
		node.Title = name
	}
	if haveInfo {
		node.ModTime = info.ModTime()
	}
	node.Created = createdAt(note.Frontmatter, node.ModTime)
	if node.IsMap {
		node.OpenQuestions = vault.SectionBullets(note.Body, "## Open Questions")
	}

	// Topics frontmatter and body wiki-links both count as outgoing edges.
	seen := map[string]bool{}
	addTarget := func(target string) {
		if target == "" || target == name || seen[target] {
			return
		}
		seen[target] = true
		node.Outgoing = append(node.Outgoing, target)
	}
	for _, topic := range vault.TopicLinks(note.Frontmatter) {
		addTarget(topic)
	}
	for _, link := range vault.WikiLinks(note.Body) {
		addTarget(link)
	}
	return node, nil
}

// createdAt reads the created frontmatter field, tolerating both quoted
// strings and YAML-native dates. Falls back to the file mtime.
func createdAt(fm map[string]any, fallback time.Time) time.Time {
	switch v := fm["created"].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return fallback
}

func sortedNames(nodes map[string]*Node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
