package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/steveyegge/invsync/internal/inventory/db"
	"github.com/steveyegge/invsync/internal/ui"
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	GroupID: "query",
	Short:   "List stored records",
	Long: `List records from the local store. Live records are shown by default.

Examples:
  invsync records --type vm
  invsync records --type vm --archived
  invsync records --name web --format yaml
  invsync records show 42`,
	RunE: runRecords,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one record with its relations and children",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

func init() {
	recordsCmd.Flags().StringP("type", "t", "", "Filter by record type (vm, host, datastore, ...)")
	recordsCmd.Flags().String("object-type", "", "Filter by remote object type (VirtualMachine, ...)")
	recordsCmd.Flags().Bool("archived", false, "Show archived records instead of live ones")
	recordsCmd.Flags().Bool("all", false, "Show live and archived records")
	recordsCmd.Flags().String("name", "", "Only records whose name contains this")
	recordsCmd.Flags().Int64("owner", 0, "Only children of this record id")
	recordsCmd.Flags().IntP("limit", "n", 0, "Maximum number of records (0 = all)")
	recordsCmd.PersistentFlags().StringP("format", "o", formatTable, "Output format: table, json, yaml or toml")

	recordsCmd.AddCommand(recordsShowCmd)
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	filter := db.ListRecordsFilter{}
	filter.Type, _ = cmd.Flags().GetString("type")
	filter.ObjectType, _ = cmd.Flags().GetString("object-type")
	filter.Archived, _ = cmd.Flags().GetBool("archived")
	filter.IncludeArchived, _ = cmd.Flags().GetBool("all")
	filter.NameLike, _ = cmd.Flags().GetString("name")
	filter.OwnerID, _ = cmd.Flags().GetInt64("owner")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openExistingStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecords(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if format != formatTable {
		if records == nil {
			records = []*db.StoredRecord{}
		}
		return encode(os.Stdout, format, "records", records)
	}

	if len(records) == 0 {
		fmt.Println(ui.RenderMuted("No records"))
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		state := "live"
		if !r.Live() {
			state = ui.RenderMuted("archived")
		}
		owner := ""
		if r.OwnerID != 0 {
			owner = strconv.FormatInt(r.OwnerID, 10)
		}
		rows = append(rows, []string{strconv.FormatInt(r.ID, 10), r.Type, r.Identity.String(), r.Name, r.UID, owner, state})
	}
	fmt.Print(ui.Table([]string{"ID", "TYPE", "OBJECT", "NAME", "UID", "OWNER", "STATE"}, rows))
	return nil
}

// recordDetail is one record with its relations and children.
type recordDetail struct {
	Record    *db.StoredRecord     `json:"record" yaml:"record" toml:"record"`
	Relations []*db.StoredRelation `json:"relations" yaml:"relations" toml:"relations"`
	Children  []*db.StoredRecord   `json:"children" yaml:"children" toml:"children"`
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid record id %q", args[0])
	}
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openExistingStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	rec, err := store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	rels, err := store.RelationsOf(ctx, id)
	if err != nil {
		return err
	}
	kids, err := store.ListRecords(ctx, db.ListRecordsFilter{OwnerID: id, IncludeArchived: true})
	if err != nil {
		return err
	}
	detail := recordDetail{Record: rec, Relations: rels, Children: kids}

	if format == formatTable {
		// Attributes are nested, so the table view falls back to yaml.
		format = formatYAML
	}
	return encode(os.Stdout, format, "detail", detail)
}
