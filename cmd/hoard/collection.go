package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/hoard/pkg/types"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collections",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name> <path>",
	Short: "Register a directory as a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runCollectionCreate,
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE:  runCollectionList,
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection with its documents, digests and OCR rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionDelete,
}

var collectionOCRCmd = &cobra.Command{
	Use:   "ocr <name> <tag> <dir>",
	Short: "Register a directory of OCR output for a collection",
	Args:  cobra.ExactArgs(3),
	RunE:  runCollectionOCR,
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd)
	collectionCmd.AddCommand(collectionListCmd)
	collectionCmd.AddCommand(collectionDeleteCmd)
	collectionCmd.AddCommand(collectionOCRCmd)
}

func runCollectionCreate(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[1])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	c := &types.Collection{Name: args[0], Path: path}
	if err := a.store.CreateCollection(cmd.Context(), c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created collection %s (id %d) at %s\n", c.Name, c.ID, c.Path)
	return nil
}

func runCollectionList(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	colls, err := a.store.ListCollections(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH\tOCR")
	for _, c := range colls {
		tags := make([]string, 0, len(c.OCR))
		for tag := range c.OCR {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", c.ID, c.Name, c.Path, tags)
	}
	return w.Flush()
}

func runCollectionDelete(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.collection(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := a.store.DeleteCollection(cmd.Context(), c.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted collection %s\n", c.Name)
	return nil
}

func runCollectionOCR(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.collection(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return a.store.SetCollectionOCR(cmd.Context(), c.ID, args[1], args[2])
}
