// Package sqlrewrite maps the logical table names a model writes onto the
// physical identifiers stored in the warehouse.
package sqlrewrite

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/sql"

	"github.com/pkg/errors"
)

// ErrUnparseable is returned together with the original SQL when the parse
// tree contains errors.
var ErrUnparseable = errors.New("sql could not be parsed")

// tableParents lists the grammar nodes whose object_reference child names a
// table. Columns (field), functions (invocation) and star selections are
// absent on purpose.
var tableParents = map[string]bool{
	"relation":     true,
	"insert":       true,
	"update":       true,
	"delete":       true,
	"from":         true,
	"create_table": true,
	"drop_table":   true,
	"alter_table":  true,
}

// aliasParents are the relation containers where a missing alias is added.
var aliasParents = map[string]bool{
	"from": true,
	"join": true,
}

type splice struct {
	start, end uint32
	text       string
}

// Rewrite replaces every table reference found in mapping with its physical
// identifier. Lookups strip quotes and lower-case the name. Anything that is
// not a table position is left byte-for-byte intact.
func Rewrite(query string, mapping map[string]string) (string, error) {
	return RewriteContext(context.Background(), query, mapping)
}

// RewriteContext is Rewrite with a caller-supplied context for the parse.
func RewriteContext(ctx context.Context, query string, mapping map[string]string) (string, error) {
	if len(mapping) == 0 || strings.TrimSpace(query) == "" {
		return query, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(sql.GetLanguage())

	src := []byte(query)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return query, errors.Wrap(err, "parse sql")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return query, ErrUnparseable
	}

	var edits []splice
	walk(root, func(n *sitter.Node) {
		if n.Type() != "object_reference" {
			return
		}
		parent := n.Parent()
		if parent == nil || !tableParents[parent.Type()] {
			return
		}
		name := n.ChildByFieldName("name")
		if name == nil {
			name = lastNamedChild(n)
		}
		if name == nil {
			return
		}
		original := name.Content(src)
		physical, ok := mapping[normalize(original)]
		if !ok {
			return
		}
		text := physical
		if parent.Type() == "relation" && parent.ChildByFieldName("alias") == nil {
			if gp := parent.Parent(); gp != nil && aliasParents[gp.Type()] {
				text += " AS " + original
			}
		}
		edits = append(edits, splice{start: name.StartByte(), end: name.EndByte(), text: text})
	})

	if len(edits) == 0 {
		return query, nil
	}
	return apply(query, edits), nil
}

func walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			walk(c, visit)
		}
	}
}

func lastNamedChild(n *sitter.Node) *sitter.Node {
	count := int(n.NamedChildCount())
	if count == 0 {
		return nil
	}
	c := n.NamedChild(count - 1)
	if c == nil || c.Type() != "identifier" {
		return nil
	}
	return c
}

// apply splices edits from the end of the text backwards so earlier offsets
// stay valid.
func apply(query string, edits []splice) string {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := query
	for _, e := range edits {
		out = out[:e.start] + e.text + out[e.end:]
	}
	return out
}

func normalize(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 {
		first, last := name[0], name[len(name)-1]
		if (first == '"' && last == '"') || (first == '`' && last == '`') || (first == '[' && last == ']') {
			name = name[1 : len(name)-1]
		}
	}
	return strings.ToLower(name)
}
