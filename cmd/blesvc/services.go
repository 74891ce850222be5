package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/host"
	"github.com/srg/blesvc/internal/peripheral"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"
)

// servicesCmd represents the services command
var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the GATT services the peripheral publishes",
	Long: `Builds the configured services without touching the radio or the hardware
and prints every service table with its characteristics and initial values.`,
	Args: cobra.NoArgs,
	RunE: runServices,
}

var (
	servicesJSON    bool
	servicesNoColor bool
)

func init() {
	servicesCmd.Flags().BoolVar(&servicesJSON, "json", false, "Output as JSON")
	servicesCmd.Flags().BoolVar(&servicesNoColor, "no-color", false, "Disable colored output")
}

func runServices(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger, err := configureLogger(cmd, cfg, "")
	if err != nil {
		return err
	}

	p, err := peripheral.New(cfg, host.NewSimStack(0, logger), nil, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	out := cmd.OutOrStdout()
	if servicesJSON {
		return writeServicesJSON(out, cfg.DeviceName, p.Runtime())
	}
	writeServicesText(out, p.Runtime(), useColor(out))
	return nil
}

// useColor reports whether out is a terminal that should receive ANSI colors.
func useColor(out io.Writer) bool {
	if servicesNoColor {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func characteristicValue(rt *gatt.Runtime, table *gatt.ServiceTable, d *gatt.Descriptor) string {
	if !d.Access.Has(gatt.Readable) {
		return ""
	}
	b, err := rt.Get(table.Ref(d.UUID))
	if err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func lengthSpec(d *gatt.Descriptor) string {
	if d.Fixed() {
		return fmt.Sprintf("%d", d.Width)
	}
	lo, hi := d.Bounds()
	return fmt.Sprintf("%d..%d", lo, hi)
}

func writeServicesText(out io.Writer, rt *gatt.Runtime, colored bool) {
	header := color.New(color.FgCyan, color.Bold)
	uuid := color.New(color.FgYellow)
	if colored {
		header.EnableColor()
		uuid.EnableColor()
	} else {
		header.DisableColor()
		uuid.DisableColor()
	}

	for i, table := range rt.Services() {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%s)\n", header.Sprint(table.KnownName()), uuid.Sprint(table.UUID))
		for j := range table.Characteristics {
			d := &table.Characteristics[j]
			line := fmt.Sprintf("  %s  %-28s %-18s len=%s", uuid.Sprint(d.UUID), d.KnownName(), d.Access, lengthSpec(d))
			if v := characteristicValue(rt, table, d); v != "" {
				line += " value=" + v
			}
			fmt.Fprintln(out, line)
		}
	}
}

func writeServicesJSON(out io.Writer, deviceName string, rt *gatt.Runtime) error {
	services := make([]*orderedmap.OrderedMap[string, any], 0)
	for _, table := range rt.Services() {
		chars := make([]*orderedmap.OrderedMap[string, any], 0, len(table.Characteristics))
		for j := range table.Characteristics {
			d := &table.Characteristics[j]
			c := orderedmap.New[string, any]()
			c.Set("uuid", d.UUID)
			c.Set("name", d.KnownName())
			c.Set("access", d.Access.String())
			lo, hi := d.Bounds()
			c.Set("min_len", lo)
			c.Set("max_len", hi)
			if v := characteristicValue(rt, table, d); v != "" {
				c.Set("value", v)
			}
			chars = append(chars, c)
		}

		s := orderedmap.New[string, any]()
		s.Set("uuid", table.UUID)
		s.Set("name", table.KnownName())
		s.Set("characteristics", chars)
		services = append(services, s)
	}

	doc := orderedmap.New[string, any]()
	doc.Set("device_name", deviceName)
	doc.Set("services", services)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
