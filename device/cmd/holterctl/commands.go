package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Krimson/holter-monitory/device/internal/frame"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/storage"
	"github.com/Krimson/holter-monitory/device/internal/writer"
)

// inspection - сводка по файлу для inspect
type inspection struct {
	Path         string       `json:"path"`
	Header       frame.Header `json:"header"`
	DurationSec  float64      `json:"duration_sec"`
	FileSize     int64        `json:"file_size"`
	ExpectedSize int64        `json:"expected_size"`
	Intact       bool         `json:"intact"`
	Problem      string       `json:"problem,omitempty"`
	Checksum     string       `json:"checksum"`
}

func inspectFile(path string, out io.Writer, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	h, err := frame.ParseHeader(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	sum := blake3.Sum256(data)
	info := inspection{
		Path:         path,
		Header:       h,
		FileSize:     int64(len(data)),
		ExpectedSize: frame.ExpectedSize(h.NumECG, h.NumIMU),
		Intact:       true,
		Checksum:     hex.EncodeToString(sum[:]),
	}
	if h.ECGRate > 0 {
		info.DurationSec = float64(h.NumECG) / float64(h.ECGRate)
	}
	if err := frame.CheckSize(h, info.FileSize); err != nil {
		info.Intact = false
		info.Problem = err.Error()
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "file:        %s\n", info.Path)
	fmt.Fprintf(out, "device:      %d\n", h.DeviceID)
	fmt.Fprintf(out, "session:     %d (%s)\n", h.SessionID, time.Unix(int64(h.TimestampStart), 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "ecg:         %d records @ %d Hz\n", h.NumECG, h.ECGRate)
	fmt.Fprintf(out, "imu:         %d records @ %d Hz\n", h.NumIMU, h.IMURate)
	fmt.Fprintf(out, "duration:    %.2fs\n", info.DurationSec)
	fmt.Fprintf(out, "size:        %d bytes (expected %d)\n", info.FileSize, info.ExpectedSize)
	fmt.Fprintf(out, "blake3:      %s\n", info.Checksum)
	if info.Intact {
		fmt.Fprintf(out, "integrity:   ok\n")
	} else {
		fmt.Fprintf(out, "integrity:   FAILED (%s)\n", info.Problem)
	}
	return nil
}

func decodeFile(path, channel string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	file, err := frame.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var (
		ch      frame.Channel
		records []frame.Record
		rate    uint16
		columns []string
	)
	switch channel {
	case "ecg":
		ch, records, rate = frame.ChannelECG, file.ECG, file.Header.ECGRate
		columns = []string{"time_sec", "lead_i_mv", "lead_ii_mv", "lead_iii_mv"}
	case "imu":
		ch, records, rate = frame.ChannelIMU, file.IMU, file.Header.IMURate
		columns = []string{"time_sec", "x_g", "y_g", "z_g"}
	default:
		return fmt.Errorf("unknown channel %q (want ecg or imu)", channel)
	}
	if rate == 0 && len(records) > 0 {
		return fmt.Errorf("%s channel has records but zero rate", channel)
	}

	w := csv.NewWriter(out)
	if err := w.Write(columns); err != nil {
		return err
	}
	row := make([]string, 4)
	for i, rec := range records {
		v := rec.Physical(ch)
		row[0] = strconv.FormatFloat(float64(i)/float64(rate), 'f', 4, 64)
		for j := 0; j < 3; j++ {
			row[j+1] = strconv.FormatFloat(v[j], 'f', 4, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

type synthOptions struct {
	Duration  time.Duration
	ECGRateHz int
	IMURateHz int
	DeviceID  uint16
	SessionID uint32
}

// synthesize гоняет планировщик по фиктивным часам, файл пишется без ожидания
func synthesize(path string, opts synthOptions) (writer.Report, error) {
	store, err := storage.NewFS(filepath.Dir(path))
	if err != nil {
		return writer.Report{}, err
	}

	clock := sampler.NewFakeClock(time.Unix(int64(opts.SessionID), 0))
	sensor := sampler.NewSynthetic(clock, sampler.DefaultSyntheticConfig())

	channels := []sampler.ChannelConfig{{Channel: frame.ChannelECG, RateHz: opts.ECGRateHz}}
	if opts.IMURateHz > 0 {
		channels = append(channels, sampler.ChannelConfig{Channel: frame.ChannelIMU, RateHz: opts.IMURateHz})
	}
	w := writer.New(store, writer.Options{})
	sched, err := sampler.New(sensor, w, opts.Duration, channels...)
	if err != nil {
		return writer.Report{}, err
	}

	if err := w.Open(writer.Session{
		Path:      filepath.Base(path),
		DeviceID:  opts.DeviceID,
		SessionID: opts.SessionID,
		ECGRate:   uint16(opts.ECGRateHz),
		IMURate:   uint16(opts.IMURateHz),
	}); err != nil {
		return writer.Report{}, err
	}

	sched.Start(clock.Now())
	for {
		done, err := sched.Tick(clock.Now())
		if err != nil {
			w.Abort()
			return writer.Report{}, err
		}
		if done {
			break
		}
		clock.Sleep(sched.NextDue().Sub(clock.Now()))
	}

	return w.Finalize()
}
