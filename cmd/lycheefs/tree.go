package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/tree"
)

// treeNode is the YAML shape printed by the tree sub-command.
type treeNode struct {
	Name     string      `yaml:"name"`
	ID       string      `yaml:"id"`
	Size     int64       `yaml:"size,omitempty"`
	Smart    bool        `yaml:"smart,omitempty"`
	Partial  bool        `yaml:"partial,omitempty"`
	Children []*treeNode `yaml:"children,omitempty"`
}

func cmdTree(args []string) error {
	o := newFlagSet("tree")
	o.flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lycheefs tree [flags]\n\n%s", o.flags.FlagUsages())
	}
	s, err := o.load(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Logout(ctx)

	fsys, err := s.session(client)
	if err != nil {
		return err
	}
	defer fsys.Close()

	if err := fsys.Build(ctx); err != nil {
		return err
	}
	return printTree(os.Stdout, fsys.Tree())
}

// printTree writes t as YAML, children in listing order.
func printTree(w io.Writer, t *tree.Tree) error {
	root := describe(t, "/", t.Root())
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}

func describe(t *tree.Tree, name string, n *models.Node) *treeNode {
	out := &treeNode{Name: name, ID: n.ID, Smart: n.Smart, Partial: n.Partial}
	if !n.IsDir() {
		out.Size = n.Size
		return out
	}
	entries, err := t.Entries(n.ID)
	if err != nil {
		return out
	}
	for _, e := range entries {
		out.Children = append(out.Children, describe(t, e.Name, e.Node))
	}
	return out
}
