// cmd/mavidemo/main.go
//
// mavidemo - small command-line tool exercising a mavi database; each run
// executes one command.
//
// Usage:
//
//	mavidemo <database-file> <command> [args...]
//
// Commands:
//
//	create <tree>                 create an empty tree
//	put <tree> <key> <value>      insert a key/value pair
//	get <tree> <key>              look up a key
//	scan <tree>                   browse a tree in key order
//	dup-add <tree> <key> <value>  add value to a duplicate-key holder
//	dup-list <tree> <key>         list a duplicate-key holder's values
package main

import (
	"fmt"
	"os"

	"mavi/btree"
	"mavi/recordmgr"
	"mavi/serializer"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: mavidemo <database-file> <command> [args...]\n")
		os.Exit(1)
	}

	rm, err := recordmgr.Open(os.Args[1], recordmgr.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer rm.Close()

	cmd := os.Args[2]
	args := os.Args[3:]

	var runErr error
	switch cmd {
	case "create":
		runErr = runCreate(rm, args)
	case "put":
		runErr = runPut(rm, args)
	case "get":
		runErr = runGet(rm, args)
	case "scan":
		runErr = runScan(rm, args)
	case "dup-add":
		runErr = runDupAdd(rm, args)
	case "dup-list":
		runErr = runDupList(rm, args)
	default:
		runErr = fmt.Errorf("unknown command %q", cmd)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, runErr)
		os.Exit(1)
	}
}

func runCreate(rm *recordmgr.RecordManager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: create <tree>")
	}
	w, err := rm.BeginWrite()
	if err != nil {
		return err
	}
	if _, err := w.CreateTree(args[0], serializer.IDBytes, serializer.IDBytes, 32); err != nil {
		w.Rollback()
		return err
	}
	return w.Commit()
}

func runPut(rm *recordmgr.RecordManager, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: put <tree> <key> <value>")
	}
	w, err := rm.BeginWrite()
	if err != nil {
		return err
	}
	bt, err := w.Tree(args[0])
	if err != nil {
		w.Rollback()
		return err
	}
	if err := bt.Insert(w.Ctx(), []byte(args[1]), []byte(args[2])); err != nil {
		w.Rollback()
		return err
	}
	return w.Commit()
}

func runGet(rm *recordmgr.RecordManager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <tree> <key>")
	}
	r, err := rm.BeginRead()
	if err != nil {
		return err
	}
	defer r.Close()
	bt, err := r.Tree(args[0])
	if err != nil {
		return err
	}
	v, ok, err := bt.Get(r.Ctx(), []byte(args[1]))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("(not found)")
		return nil
	}
	fmt.Println(string(v))
	return nil
}

func runScan(rm *recordmgr.RecordManager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: scan <tree>")
	}
	r, err := rm.BeginRead()
	if err != nil {
		return err
	}
	defer r.Close()
	bt, err := r.Tree(args[0])
	if err != nil {
		return err
	}
	cur, err := bt.Browse(r.Ctx(), nil)
	if err != nil {
		return err
	}
	for cur.Valid() {
		fmt.Printf("%s = %s\n", cur.Key(), cur.Value())
		if err := cur.Next(); err != nil {
			return err
		}
	}
	return nil
}

func runDupAdd(rm *recordmgr.RecordManager, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: dup-add <tree> <key> <value>")
	}
	w, err := rm.BeginWrite()
	if err != nil {
		return err
	}
	bt, err := w.Tree(args[0])
	if err != nil {
		w.Rollback()
		return err
	}

	key := []byte(args[1])
	holder, err := loadOrCreateHolder(bt, w.Ctx(), key)
	if err != nil {
		w.Rollback()
		return err
	}
	if err := holder.Add(w.Ctx(), []byte(args[2]), 0); err != nil {
		w.Rollback()
		return err
	}
	if err := putHolder(bt, w.Ctx(), key, holder); err != nil {
		w.Rollback()
		return err
	}
	return w.Commit()
}

func runDupList(rm *recordmgr.RecordManager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dup-list <tree> <key>")
	}
	r, err := rm.BeginRead()
	if err != nil {
		return err
	}
	defer r.Close()
	bt, err := r.Tree(args[0])
	if err != nil {
		return err
	}
	raw, ok, err := bt.Get(r.Ctx(), []byte(args[1]))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("(no values)")
		return nil
	}
	holder, err := btree.DecodeValueHolder(raw)
	if err != nil {
		return err
	}
	cur, err := holder.Cursor(r.Ctx())
	if err != nil {
		return err
	}
	for cur.Valid() {
		fmt.Println(string(cur.Value()))
		if err := cur.Next(); err != nil {
			return err
		}
	}
	return nil
}

// loadOrCreateHolder fetches key's existing value holder, or a fresh empty
// one if key has never been written.
func loadOrCreateHolder(bt *btree.BTree, ctx btree.Context, key []byte) (*btree.ValueHolder, error) {
	raw, ok, err := bt.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return btree.NewValueHolder(), nil
	}
	return btree.DecodeValueHolder(raw)
}

// putHolder writes holder's encoded form back under key. Insert only
// covers a key's first write, so an update goes through Delete-then-
// Insert instead of a dedicated replace path (spec.md §4.1's "update the
// value in a copied leaf" collapses to this at the BTree level since
// deleting and reinserting the same key revisits the same leaf).
func putHolder(bt *btree.BTree, ctx btree.Context, key []byte, holder *btree.ValueHolder) error {
	encoded := holder.Encode()
	if err := bt.Insert(ctx, key, encoded); err == nil {
		return nil
	} else if err != btree.ErrKeyExists {
		return err
	}
	if err := bt.Delete(ctx, key); err != nil {
		return err
	}
	return bt.Insert(ctx, key, encoded)
}
