package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lirlia/lsmkv/pkg/lsmkv"
)

// CLI is the interactive shell over the store. It is a thin front-end: all
// semantics live behind the lsmkv.DB contract.
type CLI struct {
	db     *lsmkv.DB
	reader *bufio.Reader
}

// NewCLI opens the store with the given options and wraps it in a shell.
func NewCLI(opts lsmkv.Options) (*CLI, error) {
	db, err := lsmkv.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &CLI{
		db:     db,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the shell main loop.
func (c *CLI) Run() error {
	defer c.db.Close()

	fmt.Println("=== lsmkv shell ===")
	c.printHelp()
	fmt.Println()

	for {
		fmt.Print("lsmkv> ")

		line, err := c.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])
		args := parts[1:]

		switch command {
		case "set", "put":
			c.handleSet(args)
		case "get":
			c.handleGet(args)
		case "del", "delete":
			c.handleDel(args)
		case "scan":
			c.handleScan(args)
		case "info", "stats":
			c.handleInfo()
		case "flush":
			c.handleFlush()
		case "compact":
			c.handleCompact()
		case "help", "h":
			c.printHelp()
		case "exit", "quit", "q":
			fmt.Println("Goodbye!")
			return nil
		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}
}

// handleSet handles: set [-ttl <duration>] <key> <value...>
func (c *CLI) handleSet(args []string) {
	var ttl time.Duration

	if len(args) >= 2 && args[0] == "-ttl" {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			fmt.Printf("Invalid TTL %q: %v\n", args[1], err)
			return
		}
		ttl = d
		args = args[2:]
	}

	if len(args) < 2 {
		fmt.Println("Usage: set [-ttl <duration>] <key> <value>")
		return
	}

	key := args[0]
	value := strings.Join(args[1:], " ")

	start := time.Now()
	var err error
	if ttl > 0 {
		err = c.db.PutWithTTL([]byte(key), []byte(value), ttl)
	} else {
		err = c.db.Put([]byte(key), []byte(value))
	}
	elapsed := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK (%.2fms)\n", float64(elapsed.Nanoseconds())/1e6)
}

func (c *CLI) handleGet(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: get <key>")
		return
	}

	start := time.Now()
	value, err := c.db.Get([]byte(args[0]))
	elapsed := time.Since(start)

	if errors.Is(err, lsmkv.ErrNotFound) {
		fmt.Printf("(nil) (%.2fms)\n", float64(elapsed.Nanoseconds())/1e6)
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s (%.2fms)\n", value, float64(elapsed.Nanoseconds())/1e6)
}

func (c *CLI) handleDel(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: del <key>")
		return
	}

	start := time.Now()
	err := c.db.Delete([]byte(args[0]))
	elapsed := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK (%.2fms)\n", float64(elapsed.Nanoseconds())/1e6)
}

// handleScan handles: scan [start [end]]
func (c *CLI) handleScan(args []string) {
	var start, end []byte
	if len(args) > 0 {
		start = []byte(args[0])
	}
	if len(args) > 1 {
		end = []byte(args[1])
	}

	pairs, err := c.db.Scan(start, end)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for _, pair := range pairs {
		fmt.Printf("  %s = %s\n", pair.Key, pair.Value)
	}
	fmt.Printf("%d keys\n", len(pairs))
}

func (c *CLI) handleInfo() {
	stats := c.db.Stats()

	fmt.Println("=== lsmkv info ===")
	fmt.Printf("MemTable Size: %s\n", formatBytes(stats.MemTable.SizeBytes))
	fmt.Printf("MemTable Entries: %d\n", stats.MemTable.EntryCount)
	fmt.Printf("SSTable Count: %d\n", stats.SSTableCount)
	fmt.Printf("Next Seq: %d\n", stats.NextSeq)

	if len(stats.TierCounts) > 0 {
		fmt.Println("Tier Distribution:")
		for tier := 0; tier < 16; tier++ {
			if count, exists := stats.TierCounts[tier]; exists && count > 0 {
				fmt.Printf("  Tier %d: %d files\n", tier, count)
			}
		}
	}

	m := stats.Metrics
	fmt.Println("Counters:")
	fmt.Printf("  puts=%d gets=%d deletes=%d hits=%d misses=%d\n",
		m.Puts, m.Gets, m.Deletes, m.GetHits, m.GetMisses)
	fmt.Printf("  flushes=%d compactions=%d wal_fsyncs=%d\n",
		m.Flushes, m.Compactions, m.WALFsyncs)
	fmt.Printf("  bytes_written=%s bytes_read=%s\n",
		formatBytes(int64(m.BytesWritten)), formatBytes(int64(m.BytesRead)))
}

func (c *CLI) handleFlush() {
	start := time.Now()
	err := c.db.Flush()
	elapsed := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Flush completed (%.2fms)\n", float64(elapsed.Nanoseconds())/1e6)
}

func (c *CLI) handleCompact() {
	start := time.Now()
	err := c.db.Compact()
	elapsed := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Compaction cycle completed (%.2fms)\n", float64(elapsed.Nanoseconds())/1e6)
}

func (c *CLI) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  set [-ttl <dur>] <key> <value> - Store a key-value pair (optionally expiring)")
	fmt.Println("  get <key>                      - Retrieve value for a key")
	fmt.Println("  del <key>                      - Delete a key")
	fmt.Println("  scan [start [end]]             - List pairs in [start, end)")
	fmt.Println("  info                           - Show engine statistics")
	fmt.Println("  flush                          - Force flush MemTable to SSTable")
	fmt.Println("  compact                        - Force a compaction cycle")
	fmt.Println("  help                           - Show this help message")
	fmt.Println("  exit                           - Exit the shell")
}

// formatBytes formats byte count to human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
