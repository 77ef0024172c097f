package frame

import (
	"encoding/binary"
	"math"
)

// Vector - три откалиброванные физические величины одного отсчёта
// (отведения I, II, III в мВ или оси X, Y, Z в g).
type Vector [3]float64

// Record - отсчёт в фиксированной точке, три int16
type Record [3]int16

// Encode переводит физический отсчёт канала в запись
func Encode(ch Channel, v Vector) Record {
	scale := ch.Scale()
	return Record{quantize(v[0], scale), quantize(v[1], scale), quantize(v[2], scale)}
}

// EncodeECG кодирует отведения I, II, III в мВ
func EncodeECG(leadI, leadII, leadIII float64) Record {
	return Encode(ChannelECG, Vector{leadI, leadII, leadIII})
}

// EncodeIMU кодирует ускорение по осям в g
func EncodeIMU(x, y, z float64) Record {
	return Encode(ChannelIMU, Vector{x, y, z})
}

// Усечение к нулю; значения вне диапазона int16 насыщаются.
func quantize(v, scale float64) int16 {
	x := math.Trunc(v * scale)
	switch {
	case math.IsNaN(x):
		return 0
	case x > math.MaxInt16:
		return math.MaxInt16
	case x < math.MinInt16:
		return math.MinInt16
	}
	return int16(x)
}

// Append дописывает запись в dst
func (r Record) Append(dst []byte) []byte {
	for _, v := range r {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

// Bytes возвращает запись в виде 6 байт
func (r Record) Bytes() []byte {
	return r.Append(make([]byte, 0, ECGRecordSize))
}

// DecodeRecord читает запись из первых 6 байт b
func DecodeRecord(b []byte) Record {
	le := binary.LittleEndian
	return Record{int16(le.Uint16(b[0:])), int16(le.Uint16(b[2:])), int16(le.Uint16(b[4:]))}
}

// Physical переводит запись обратно в физические единицы канала
func (r Record) Physical(ch Channel) Vector {
	scale := ch.Scale()
	return Vector{float64(r[0]) / scale, float64(r[1]) / scale, float64(r[2]) / scale}
}
