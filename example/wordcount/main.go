// Command wordcount runs a small word-count job through the localmr engine
// and prints the combined counts.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"localmr"
)

var inputs = map[string]string{
	"file1.txt": "apple banana orange apple",
	"file2.txt": "banana orange grape kiwi",
	"file3.txt": "apple banana melon",
	"file4.txt": "banana",
}

func mapWords(_ string, contents string) []localmr.KeyValue {
	var kvs []localmr.KeyValue
	for _, word := range strings.Fields(strings.ToLower(contents)) {
		kvs = append(kvs, localmr.KeyValue{Key: word, Value: "1"})
	}
	return kvs
}

func sumCounts(_ string, values []string) string {
	total := 0
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		total += n
	}
	return strconv.Itoa(total)
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	cfg := localmr.DefaultConfig()
	cfg.Root = "wordcount-out"
	if err := os.MkdirAll(cfg.Root, 0o777); err != nil {
		log.Fatalf("create output root: %v", err)
	}

	var files []string
	for name, contents := range inputs {
		if err := os.WriteFile(filepath.Join(cfg.Root, name), []byte(contents), 0o666); err != nil {
			log.Fatalf("write input %s: %v", name, err)
		}
		files = append(files, name)
	}

	job := &localmr.Job{
		Config:  cfg,
		Files:   files,
		NReduce: 3,
		Map:     mapWords,
		Reduce:  sumCounts,
		Logger:  logger,
	}
	if err := job.Run(context.Background()); err != nil {
		log.Fatalf("job failed: %v", err)
	}

	for b := 0; b < job.NReduce; b++ {
		f, err := os.Open(filepath.Join(cfg.Root, fmt.Sprintf("mr-out-%d", b)))
		if err != nil {
			log.Fatalf("open output %d: %v", b, err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fmt.Println(strings.ReplaceAll(scanner.Text(), "\t", " = "))
		}
		f.Close()
	}
}
