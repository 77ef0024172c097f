package frame

import (
	"errors"
	"fmt"
	"io"
)

// File - декодированный файл сессии
type File struct {
	Header Header
	ECG    []Record
	IMU    []Record
}

// Decode читает файл сессии целиком. Счётчики используются только после
// проверки magic и версии.
func Decode(r io.Reader) (*File, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	ecg, err := readRecords(r, h.NumECG, ECGRecordSize)
	if err != nil {
		return nil, fmt.Errorf("ecg block: %w", err)
	}
	imu, err := readRecords(r, h.NumIMU, IMURecordSize)
	if err != nil {
		return nil, fmt.Errorf("imu block: %w", err)
	}

	return &File{Header: h, ECG: ecg, IMU: imu}, nil
}

func readRecords(r io.Reader, n uint32, size int) ([]Record, error) {
	records := make([]Record, 0, min(n, 1<<16))
	buf := make([]byte, size)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return records, fmt.Errorf("%w: %d of %d records", ErrTruncated, i, n)
			}
			return records, err
		}
		records = append(records, DecodeRecord(buf))
	}
	return records, nil
}
