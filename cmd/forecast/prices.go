package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// readPrices reads a chronological price series. Each non-empty line is a CSV
// row whose last column is the price, so both bare newline separated values
// and "date,close" exports work. A non-numeric first row is treated as a header.
func readPrices(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var prices []float64
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read prices: %w", err)
		}

		field := strings.TrimSpace(record[len(record)-1])
		if field == "" {
			continue
		}
		price, err := strconv.ParseFloat(field, 64)
		if err != nil {
			if row == 1 {
				continue
			}
			return nil, fmt.Errorf("row %d: invalid price %q", row, field)
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return nil, fmt.Errorf("row %d: price must be finite", row)
		}
		prices = append(prices, price)
	}

	if len(prices) == 0 {
		return nil, errors.New("no prices found")
	}
	return prices, nil
}

// readPricesFile reads prices from path, or from stdin when path is "-"
func readPricesFile(path string, stdin io.Reader) ([]float64, error) {
	if path == "-" {
		return readPrices(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()
	return readPrices(f)
}
