package rcon

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	cmdAuth        = 3
	cmdExecCommand = 2

	respResponse     = 0
	respAuthResponse = 2
)

const (
	// MaxBodySize is the largest body a single frame may carry.
	MaxBodySize = 4096

	// MaxMinecraftBodySize bounds inbound bodies in quirks mode. Minecraft
	// splits replies every 4096 characters before UTF-8 encoding them, so a
	// fragment can take up to three bytes per character.
	MaxMinecraftBodySize = MaxBodySize * 3

	// 4 byte id, 4 byte type, 2 null bytes.
	headerSize = 10

	// authFailedID is echoed by the server instead of the request id when
	// the password is wrong.
	authFailedID = -1
)

// Packet is a single RCON frame.
type Packet struct {
	ID   int32
	Type int32
	Body string
}

var (
	ErrBodyTooLarge     = errors.New("rcon: body exceeds max frame size")
	ErrBodyContainsNull = errors.New("rcon: body contains null byte")
	ErrFrameLength      = errors.New("rcon: frame length mismatch")
	ErrResponseTooLong  = errors.New("rcon: response too long")
	ErrMalformedPacket  = errors.New("rcon: malformed packet")
)

// Encode builds the wire representation of a frame.
func Encode(id int32, packetType int32, body string) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, errors.Wrapf(ErrBodyTooLarge, "%d > %d bytes", len(body), MaxBodySize)
	}
	if bytes.IndexByte([]byte(body), 0x00) >= 0 {
		return nil, ErrBodyContainsNull
	}

	buffer := bytes.NewBuffer(make([]byte, 0, 4+headerSize+len(body)))

	// packet size
	_ = binary.Write(buffer, binary.LittleEndian, int32(headerSize+len(body)))

	// request id
	_ = binary.Write(buffer, binary.LittleEndian, id)

	_ = binary.Write(buffer, binary.LittleEndian, packetType)

	// body (null terminated) followed by the empty second string
	buffer.WriteString(body)
	buffer.WriteByte(0x00)
	buffer.WriteByte(0x00)

	return buffer.Bytes(), nil
}

// Decode parses one complete frame, size prefix included.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < 4 {
		return Packet{}, errors.Wrapf(ErrFrameLength, "got %d bytes, need size prefix", len(frame))
	}
	size := int32(binary.LittleEndian.Uint32(frame[:4]))
	if err := checkSize(size, MaxBodySize); err != nil {
		return Packet{}, err
	}
	if int(size) != len(frame)-4 {
		return Packet{}, errors.Wrapf(ErrFrameLength, "declared %d, have %d", size, len(frame)-4)
	}
	return decodeData(frame[4:])
}

// ReadPacket reads exactly one frame from r. Frames may arrive split across
// several reads or coalesced with the next frame.
func ReadPacket(r io.Reader) (Packet, error) {
	return readPacket(r, MaxBodySize)
}

func readPacket(r io.Reader, maxBody int32) (Packet, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Packet{}, errors.Wrap(ErrFrameLength, "truncated size prefix")
		}
		return Packet{}, err
	}
	if err := checkSize(size, maxBody); err != nil {
		return Packet{}, err
	}
	data := make([]byte, size)
	if n, err := io.ReadFull(r, data); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Packet{}, errors.Wrapf(ErrFrameLength, "declared %d, read %d", size, n)
		}
		return Packet{}, err
	}
	return decodeData(data)
}

func checkSize(size, maxBody int32) error {
	if size < headerSize {
		return errors.Wrapf(ErrFrameLength, "declared size %d below minimum", size)
	}
	if size > maxBody+headerSize {
		return errors.Wrapf(ErrResponseTooLong, "declared size %d", size)
	}
	return nil
}

func decodeData(data []byte) (Packet, error) {
	n := len(data)
	if data[n-1] != 0x00 || data[n-2] != 0x00 {
		return Packet{}, errors.Wrap(ErrMalformedPacket, "missing body terminator")
	}
	body := data[8 : n-2]
	if bytes.IndexByte(body, 0x00) >= 0 {
		return Packet{}, errors.Wrap(ErrMalformedPacket, "null byte inside body")
	}
	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(data[0:4])),
		Type: int32(binary.LittleEndian.Uint32(data[4:8])),
		Body: string(body),
	}, nil
}
