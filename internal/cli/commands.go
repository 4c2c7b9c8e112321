package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/remote/internal/client"
	"github.com/iammorganparry/clive/apps/remote/internal/models"
	"github.com/iammorganparry/clive/apps/remote/internal/tui"
	"github.com/iammorganparry/clive/apps/remote/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Arm the mobile endpoint",
	Long: `Arm the mobile endpoint so devices can pair.

Connecting an already connected broker is a no-op. While another connect is
in flight this waits for it to settle.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Drop every mobile and disarm the endpoint",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Issue a fresh pairing PIN",
	Long: `Issue a fresh single-use pairing PIN, connecting first if the broker is
disconnected. Any previously issued PIN stops working.`,
	Args: cobra.NoArgs,
	RunE: runPin,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the current broker state",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List pairing and removal events",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow broker state live",
	Long: `Open a live view of the broker state.

Keys:
  p  issue a new PIN
  c  connect
  d  disconnect
  q  quit`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	pinOutput     string
	stateOutput   string
	historyOutput string
	historyMobile string
	historyLimit  int
	watchReadOnly bool
)

func init() {
	pinCmd.Flags().StringVarP(&pinOutput, "output", "o", formatTable, "output format: table, json, yaml")
	stateCmd.Flags().StringVarP(&stateOutput, "output", "o", formatTable, "output format: table, json, yaml")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", formatTable, "output format: table, json, yaml")
	historyCmd.Flags().StringVar(&historyMobile, "mobile", "", "only show events for this mobile id")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of events")
	watchCmd.Flags().BoolVar(&watchReadOnly, "read-only", false, "disable command keys")

	rootCmd.AddCommand(connectCmd, disconnectCmd, pinCmd, stateCmd, historyCmd, watchCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var resp *models.CommandResponse
	err := ui.WithSpinnerResult("Arming mobile endpoint", func() error {
		var err error
		resp, err = newClient().Connect(ctx)
		return err
	})
	if err != nil {
		return describe(err)
	}
	fmt.Fprint(cmd.OutOrStdout(), ui.KeyValue("Status", ui.StatusColor(resp.Status)))
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	resp, err := newClient().Disconnect(ctx)
	if err != nil {
		return describe(err)
	}
	ui.Success("Disconnected")
	fmt.Fprint(cmd.OutOrStdout(), ui.KeyValue("Status", ui.StatusColor(resp.Status)))
	return nil
}

func runPin(cmd *cobra.Command, args []string) error {
	if err := validateFormat(pinOutput); err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	pin, err := newClient().CreatePin(ctx)
	if err != nil {
		return describe(err)
	}
	if pinOutput != formatTable {
		return printStructured(cmd.OutOrStdout(), pinOutput, pin)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n\n", ui.Bold(ui.Cyan(spaced(pin.Pin))))
	fmt.Fprint(w, ui.KeyValue("Expires", fmt.Sprintf("%s (in %s)",
		pin.ExpiresAt.Local().Format(time.Kitchen),
		ui.Countdown(ui.Remaining(pin.ExpiresAt, time.Now())))))
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	if err := validateFormat(stateOutput); err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	st, err := newClient().State(ctx)
	if err != nil {
		return describe(err)
	}
	if stateOutput != formatTable {
		return printStructured(cmd.OutOrStdout(), stateOutput, st)
	}
	ui.RenderState(cmd.OutOrStdout(), *st, time.Now())
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validateFormat(historyOutput); err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	events, err := newClient().History(ctx, historyMobile, historyLimit)
	if err != nil {
		return describe(err)
	}
	if historyOutput != formatTable {
		return printStructured(cmd.OutOrStdout(), historyOutput, events)
	}
	if len(events) == 0 {
		ui.Info("No pairing events recorded")
		return nil
	}
	ui.RenderHistory(cmd.OutOrStdout(), events)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return tui.Run(ctx, newClient(), watchReadOnly)
}

// describe adds a hint for the error codes a user can act on.
func describe(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case models.CodeEndpointArmFailure:
		return fmt.Errorf("%w\nthe mobile endpoint could not start; is another broker using its port?", err)
	case models.CodeInterrupted:
		return fmt.Errorf("%w\na disconnect arrived while connecting", err)
	}
	if apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w\nset API_KEY or pass --api-key", err)
	}
	return err
}

// spaced renders a PIN as "482 913" for easier reading aloud.
func spaced(pin string) string {
	if len(pin) < 6 {
		return pin
	}
	mid := len(pin) / 2
	return pin[:mid] + " " + pin[mid:]
}
