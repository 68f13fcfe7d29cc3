package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/models"
)

var (
	ordersListChat int64
)

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersListCmd)
	ordersCmd.AddCommand(ordersTasksCmd)

	ordersListCmd.Flags().Int64Var(&ordersListChat, "chat", 0, "filter by chat id (0 = all chats)")
	ordersTasksCmd.Flags().Int64Var(&ordersListChat, "chat", 0, "filter by chat id (0 = all chats)")
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Inspect supply order records",
	Long:  "Inspect persisted supply order records and pending tasks.",
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supply order records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		records, err := db.NewOrderRepository(database).List(ctx, ordersListChat)
		if err != nil {
			return fmt.Errorf("failed to list orders: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No supply order records found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tCHAT\tSTATUS\tORDER ID\tWAREHOUSE\tARRIVAL\tCREATED")
		for _, record := range records {
			orderID := "-"
			if record.OrderID > 0 {
				orderID = fmt.Sprintf("%d", record.OrderID)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				record.TaskID,
				record.ChatID,
				record.Status,
				orderID,
				record.WarehouseName,
				record.Arrival,
				record.CreatedAt.Local().Format(time.DateTime),
			)
		}
		return w.Flush()
	},
}

var ordersTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List pending tasks awaiting a supply order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		records, err := db.NewOrderRepository(database).ListTasks(ctx, ordersListChat)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No pending tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tCHAT\tCITY\tWAREHOUSE\tITEMS\tDEADLINE")
		for _, record := range records {
			city, warehouse, items, deadline := taskColumns(record)
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
				record.TaskID, record.ChatID, city, warehouse, items, deadline)
		}
		return w.Flush()
	},
}

func taskColumns(record *models.SupplyOrderRecord) (city, warehouse string, items int, deadline string) {
	city, warehouse, deadline = "-", "-", "-"
	if record.Task == nil {
		return
	}
	if record.Task.City != "" {
		city = record.Task.City
	}
	if record.Task.WarehouseName != "" {
		warehouse = record.Task.WarehouseName
	}
	items = len(record.Task.Items)
	if !record.Task.LastDay.IsZero() {
		deadline = record.Task.LastDay.Format(time.DateOnly)
	}
	return
}
