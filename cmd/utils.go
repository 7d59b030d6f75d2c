package cmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/encodeous/srmesh/graph"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var etxCmd = &cobra.Command{
	Use:   "etx",
	Short: "Converts link signal to expected transmission count, or back with --inverse",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("inverse") {
			etx, _ := cmd.Flags().GetFloat64("inverse")
			if etx < 1 {
				return fmt.Errorf("etx must be at least 1, got %v", etx)
			}
			rssi, snr := graph.ETXToSignal(etx)
			fmt.Fprintf(cmd.OutOrStdout(), "rssi=%d snr=%d\n", rssi, snr)
			return nil
		}
		rssi, _ := cmd.Flags().GetInt32("rssi")
		snr, _ := cmd.Flags().GetFloat32("snr")
		fmt.Fprintf(cmd.OutOrStdout(), "etx=%.2f\n", graph.CalculateETX(rssi, snr))
		return nil
	},
	GroupID: "tools",
}

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decodes a signal routing payload, read from stdin when no argument is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in string
		if len(args) == 1 {
			in = args[0]
		} else {
			ln, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && ln == "" {
				return err
			}
			in = ln
		}
		raw, err := hex.DecodeString(strings.TrimSpace(in))
		if err != nil {
			return err
		}
		info, err := protocol.UnmarshalRoutingInfo(raw)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
	GroupID: "tools",
}

var topologyCmd = &cobra.Command{
	Use:   "topology [file]",
	Short: "Expands a topology description into the links it declares",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		nodes, _ := cmd.Flags().GetStringSlice("nodes")
		pairs, err := state.ParseTopology(strings.Split(string(file), "\n"), nodes)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.V1, p.V2)
		}
		return nil
	},
	GroupID: "tools",
}

func init() {
	rootCmd.AddCommand(etxCmd)
	etxCmd.Flags().Int32("rssi", -80, "received signal strength in dBm")
	etxCmd.Flags().Float32("snr", 5, "signal to noise ratio in dB")
	etxCmd.Flags().Float64("inverse", 0, "convert this etx to the signal it stands for")

	rootCmd.AddCommand(decodeCmd)

	rootCmd.AddCommand(topologyCmd)
	topologyCmd.Flags().StringSliceP("nodes", "n", nil, "node names, every other symbol is a group")
}
