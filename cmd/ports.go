package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"serialbridge/serial"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports visible to this host",
	Long: `List the serial ports this host reports, using the same enumeration as
the network list operation. USB adapters show their vendor and product IDs.

Examples:
  serialbridge ports
  serialbridge ports --usb
  serialbridge ports --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		usbOnly, _ := cmd.Flags().GetBool("usb")
		jsonOut, _ := cmd.Flags().GetBool("json")

		ports, err := serial.HostEnumerator{}.Ports()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}

		if usbOnly {
			ports = filterUSB(ports)
		}

		return renderPorts(cmd.OutOrStdout(), ports, jsonOut)
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().Bool("usb", false, "Only show USB serial adapters")
	portsCmd.Flags().Bool("json", false, "Print the list as JSON")
}

// filterUSB keeps the ports that carry USB descriptors
func filterUSB(ports []serial.PortInfo) []serial.PortInfo {
	var filtered []serial.PortInfo
	for _, p := range ports {
		if p.IsUSB {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// renderPorts writes the port list as plain text or JSON
func renderPorts(w io.Writer, ports []serial.PortInfo, jsonOut bool) error {
	if jsonOut {
		if ports == nil {
			ports = []serial.PortInfo{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ports)
	}

	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "No serial ports found")
		return err
	}

	for _, p := range ports {
		line := p.Name
		if p.IsUSB {
			var details []string
			details = append(details, fmt.Sprintf("usb %s:%s", p.VID, p.PID))
			if p.SerialNumber != "" {
				details = append(details, "serial "+p.SerialNumber)
			}
			if p.Product != "" {
				details = append(details, p.Product)
			}
			line += "  (" + strings.Join(details, ", ") + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
