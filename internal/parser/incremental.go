package parser

import (
	"github.com/camelscope/camelscope/internal/lexer"
	"github.com/camelscope/camelscope/internal/syntax"
)

// Edit describes one text change in byte offsets: [Start, OldEnd) of the
// old text was replaced by [Start, NewEnd) of the new text.
type Edit struct {
	Start  int
	OldEnd int
	NewEnd int
}

// Delta returns the byte-length change of the edit.
func (e Edit) Delta() int {
	return (e.NewEnd - e.Start) - (e.OldEnd - e.Start)
}

// editMargin is the safety margin around the edit when choosing the
// enclosing subtree: the delimiters of the chosen block must be strictly
// outside the edited range.
const editMargin = 1

// IncrementalReparse re-parses only the smallest enclosing block covering
// the edit and splices the new subtree into the old tree, sharing every
// untouched subtree before the edit and shift-copying subtrees after it.
//
// It returns (tree, true) when the incremental path applied, and
// (nil, false) when the caller must fall back to a full reparse: edits
// outside any balanced construct, trees with heredocs (their bodies cross
// statement boundaries), or a subtree parse that did not line up exactly
// with the old block's span.
func IncrementalReparse(old *syntax.Tree, oldSrc, newSrc string, ed Edit, opts Options) (*syntax.Tree, bool) {
	if old == nil || len(old.Heredocs) > 0 {
		return nil, false
	}
	target := enclosingBlock(old.Root, ed)
	if target == nil {
		return nil, false
	}

	delta := ed.Delta()
	newEnd := target.End + delta
	if newEnd <= target.Start || newEnd > len(newSrc) || newSrc[target.Start] != '{' {
		return nil, false
	}

	sub := parseBlockAt(newSrc, target.Start, opts)
	if sub == nil || sub.block.Start != target.Start || sub.block.End != newEnd {
		return nil, false
	}
	if len(sub.heredocs) > 0 {
		return nil, false
	}

	root := splice(old.Root, target, sub.block, ed, delta)
	tree := &syntax.Tree{Root: root}
	root.Walk(func(n *syntax.Node) bool {
		if n.Kind == syntax.KindError || n.Kind == syntax.KindRecursionLimit {
			tree.Errors = append(tree.Errors, n)
		}
		return true
	})
	// The sub-lexer's lookahead may have scanned past the block; keep
	// only comments inside it.
	inside := sub.comments[:0]
	for _, c := range sub.comments {
		if c.Start < newEnd {
			inside = append(inside, c)
		}
	}
	tree.Comments = mergeComments(old.Comments, inside, target, ed, delta)
	return tree, true
}

// enclosingBlock returns the deepest block node whose range covers the
// edit plus the safety margin.
func enclosingBlock(root *syntax.Node, ed Edit) *syntax.Node {
	var best *syntax.Node
	cur := root
outer:
	for {
		for _, c := range cur.Children {
			if c.Start <= ed.Start-editMargin && ed.OldEnd+editMargin <= c.End {
				if c.Kind == syntax.KindBlock {
					best = c
				}
				cur = c
				continue outer
			}
		}
		return best
	}
}

type subParse struct {
	block    *syntax.Node
	comments []syntax.Comment
	heredocs []*syntax.Node
}

// parseBlockAt parses a single block starting at offset in src, using the
// resumable lexer state for a block opener.
func parseBlockAt(src string, offset int, opts Options) *subParse {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	p := &Parser{
		src:      src,
		lx:       lexer.NewAt(src, offset, lexer.State{ExprPosition: true}),
		maxDepth: maxDepth,
	}
	p.advance()
	p.advance()
	if !p.atOp("{") {
		return nil
	}
	block := p.parseBlock()
	if len(p.errors) > 0 || len(p.bodies) > 0 {
		return nil
	}
	var comments []syntax.Comment
	for _, c := range p.lx.Comments {
		comments = append(comments, syntax.Comment{
			Start: c.Start, End: c.End, Text: c.Text, Pod: c.Kind == lexer.Pod,
		})
	}
	return &subParse{block: block, comments: comments, heredocs: p.heredocs}
}

// splice rebuilds the spine above target, shares subtrees that end before
// the edit, and shift-copies subtrees that start after it.
func splice(n, target, replacement *syntax.Node, ed Edit, delta int) *syntax.Node {
	if n == target {
		return replacement
	}
	if n.End <= ed.Start {
		return n // untouched, structurally shared with the old tree
	}
	if n.Start >= ed.OldEnd {
		return shiftCopy(n, delta)
	}
	cp := *n
	cp.End = n.End + delta
	cp.Children = make([]*syntax.Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = splice(c, target, replacement, ed, delta)
	}
	return &cp
}

func shiftCopy(n *syntax.Node, delta int) *syntax.Node {
	cp := *n
	cp.Start += delta
	cp.End += delta
	cp.Children = make([]*syntax.Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = shiftCopy(c, delta)
	}
	return &cp
}

// mergeComments keeps old comments outside the reparsed block (shifting
// those after the edit) and takes the sub-parse comments inside it.
func mergeComments(old []syntax.Comment, sub []syntax.Comment, target *syntax.Node, ed Edit, delta int) []syntax.Comment {
	var out []syntax.Comment
	for _, c := range old {
		switch {
		case c.End <= target.Start:
			out = append(out, c)
		case c.Start >= target.End:
			c.Start += delta
			c.End += delta
			out = append(out, c)
		}
	}
	out = append(out, sub...)
	sortComments(out)
	return out
}

func sortComments(cs []syntax.Comment) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].Start < cs[j-1].Start; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}
