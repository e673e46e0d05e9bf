package wire

import "time"

// TransferStatus is the server's authoritative, per-transfer progress
// record. The bitmap is authoritative for resume; ReceivedChunks is
// derived from it.
type TransferStatus struct {
	TransferID      string `json:"transferId"`
	StatusCode      int32  `json:"statusCode"`
	StatusMessage   string `json:"statusMessage"`
	TotalChunks     int32  `json:"totalChunks"`
	ReceivedChunks  int32  `json:"receivedChunks"`
	FileLength      int32  `json:"fileLength"`
	ReceivedBytes   int32  `json:"receivedLength"`
	IsCompleted     bool   `json:"isCompleted"`
	StartTimeEpoch  int64  `json:"startTimeEpoch"`
	LastUpdateEpoch int64  `json:"lastUpdateEpoch"`
	ChunkBitmap     []bool `json:"chunkBitmap"`
}

// UnknownTransferStatus is returned for GetTransferStatus on a transfer
// the receiver has never seen.
func UnknownTransferStatus(transferID string) TransferStatus {
	return TransferStatus{
		TransferID:    transferID,
		StatusCode:    StatusUnknown,
		StatusMessage: "unknown transfer",
		ChunkBitmap:   []bool{},
	}
}

// NowEpoch returns the current wall-clock time in Unix seconds, the
// unit of TransferStatus's epoch fields.
func NowEpoch() int64 { return time.Now().Unix() }

// TestInfo is the four-field echo record.
type TestInfo struct {
	B bool    `json:"b"`
	I int32   `json:"i"`
	D float64 `json:"d"`
	S string  `json:"s"`
}
