package market

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// LoadCSV reads a kline file. See ReadCSV for the layout.
func LoadCSV(path string) ([]model.Kline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses rows of open_time,open,high,low,close,volume. open_time is
// unix milliseconds or RFC3339. A leading header row and extra trailing
// columns, as in exchange exports, are skipped. Rows must be time ordered.
func ReadCSV(r io.Reader) ([]model.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		out  []model.Kline
		line int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "csv: %v", err)
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if line == 1 && isHeader(row) {
			continue
		}
		k, err := parseRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "csv line %d", line)
		}
		if n := len(out); n > 0 && !k.OpenTime.After(out[n-1].OpenTime) {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "csv line %d: open time %s not after previous", line, k.OpenTime.Format(time.RFC3339))
		}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, errors.Wrap(exception.ErrNoMarketData, "csv has no klines")
	}
	return out, nil
}

func isHeader(row []string) bool {
	if len(row) < 2 {
		return true
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	return err != nil
}

func parseRow(row []string) (model.Kline, error) {
	if len(row) < 6 {
		return model.Kline{}, errors.Wrapf(exception.ErrInvalidArgument, "want 6 columns, got %d", len(row))
	}
	openTime, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return model.Kline{}, err
	}
	var v [5]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return model.Kline{}, errors.Wrapf(exception.ErrInvalidArgument, "column %d: %v", i+2, err)
		}
		v[i] = f
	}
	k := model.Kline{OpenTime: openTime, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}
	if k.Low <= 0 || k.High < k.Low || k.Close < k.Low || k.Close > k.High || k.Open < k.Low || k.Open > k.High {
		return model.Kline{}, errors.Wrapf(exception.ErrInvalidArgument, "inconsistent candle o=%g h=%g l=%g c=%g", k.Open, k.High, k.Low, k.Close)
	}
	return k, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "open time %q", s)
	}
	return t.UTC(), nil
}
