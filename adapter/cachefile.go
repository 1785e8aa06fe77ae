package adapter

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/sagernet/sing/common"
)

// CacheFile persists relay list content and selector state across restarts.
type CacheFile interface {
	Lifecycle
	LoadRelayList() *SavedRelayList
	StoreRelayList(list *SavedRelayList) error
	StoreSelectedEnabled() bool
	LoadSelected(tag string) string
	StoreSelected(tag string, hostname string) error
}

// SavedRelayList is a cached relay list document with its fetch metadata.
type SavedRelayList struct {
	LastUpdated time.Time
	LastEtag    string
	Digest      uint64
	Content     []byte
}

func (s *SavedRelayList) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer
	binaryTime, err := s.LastUpdated.MarshalBinary()
	if err != nil {
		return nil, err
	}
	common.Must(binary.Write(&buffer, binary.BigEndian, uint8(len(binaryTime))))
	buffer.Write(binaryTime)
	common.Must(binary.Write(&buffer, binary.BigEndian, uint16(len(s.LastEtag))))
	buffer.WriteString(s.LastEtag)
	common.Must(binary.Write(&buffer, binary.BigEndian, s.Digest))
	buffer.Write(s.Content)
	return buffer.Bytes(), nil
}

func (s *SavedRelayList) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	var timeLength uint8
	err := binary.Read(reader, binary.BigEndian, &timeLength)
	if err != nil {
		return err
	}
	binaryTime := make([]byte, timeLength)
	_, err = io.ReadFull(reader, binaryTime)
	if err != nil {
		return err
	}
	err = s.LastUpdated.UnmarshalBinary(binaryTime)
	if err != nil {
		return err
	}
	var etagLength uint16
	err = binary.Read(reader, binary.BigEndian, &etagLength)
	if err != nil {
		return err
	}
	if etagLength > 0 {
		etag := make([]byte, etagLength)
		_, err = io.ReadFull(reader, etag)
		if err != nil {
			return err
		}
		s.LastEtag = string(etag)
	}
	err = binary.Read(reader, binary.BigEndian, &s.Digest)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.Content = content
	return nil
}
