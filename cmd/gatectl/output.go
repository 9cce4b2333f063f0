package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for -field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
		} else {
			for k, v := range data {
				fmt.Printf("%s=%v\n", k, v)
			}
		}
	default: // table
		printTable(data)
	}
}

// printTable prints the response body without the ok envelope flag. Nested
// objects such as limits, purchase and result become indented sections.
func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		if k == "ok" {
			continue
		}
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%s\n", kk, formatValue(val[kk]))
			}
		default:
			fmt.Fprintf(w, "%s\t%s\n", k, formatValue(val))
		}
	}
	w.Flush()
}

// formatValue renders line items as "id x qty" and null as "-".
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			if item, ok := e.(map[string]any); ok && item["id"] != nil {
				parts[i] = fmt.Sprintf("%v x %v", item["id"], item["qty"])
				continue
			}
			parts[i] = fmt.Sprintf("%v", e)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%v", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printError writes to stderr so --format=raw output stays clean.
func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}

// printPurchases renders /purchases.json as one row per purchase.
func printPurchases(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TS\tSITE\tORDER\tAMOUNT\tITEMS")
	items, _ := data["items"].([]any)
	for _, it := range items {
		p, ok := it.(map[string]any)
		if !ok {
			continue
		}
		lines, _ := p["items"].([]any)
		fmt.Fprintf(w, "%v\t%v\t%v\t%s\t%s\n", p["ts"], p["site"], p["order"], formatValue(p["amount"]), formatValue(lines))
	}
	fmt.Fprintf(w, "TOTAL\t\t\t%s\t\n", formatValue(data["total"]))
	w.Flush()
}
