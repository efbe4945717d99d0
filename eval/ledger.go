package eval

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// Claim 声明账本条目:一条断言与其支撑块及置信度的绑定。
// EntryHash = SHA-256(PrevHash ‖ 清空 EntryHash 后的条目 JSON),
// 逐条链接成防篡改哈希链;创世条目的 PrevHash 为空串。
type Claim struct {
	ClaimID    string    `json:"claim_id"`
	RunID      string    `json:"run_id"`
	Claim      string    `json:"claim"`
	ChunkIDs   []string  `json:"chunk_ids,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	PrevHash   string    `json:"prev_hash"`
	EntryHash  string    `json:"entry_hash"`
}

// Ledger 追加写的 JSONL 声明账本。历史条目从不改写,新一轮评估
// 只追加带新时间戳的条目。
type Ledger struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	head   string
	count  int
	logger *zap.Logger
}

// OpenLedger 打开或创建账本,读取既有条目定位链头。
func OpenLedger(path string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("ledger dir not writable: %s", filepath.Dir(path))).WithCause(err)
	}

	head := ""
	count := 0
	existing, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(existing)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var c Claim
			if err := json.Unmarshal(line, &c); err != nil {
				existing.Close()
				return nil, types.NewError(types.ErrParse,
					fmt.Sprintf("ledger entry %d not valid JSON: %s", count+1, path)).WithCause(err)
			}
			head = c.EntryHash
			count++
		}
		if err := scanner.Err(); err != nil {
			existing.Close()
			return nil, types.NewError(types.ErrStoreUnavailable,
				fmt.Sprintf("ledger not readable: %s", path)).WithCause(err)
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return nil, types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("ledger not readable: %s", path)).WithCause(err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("ledger not writable: %s", path)).WithCause(err)
	}
	return &Ledger{
		path:   path,
		file:   file,
		head:   head,
		count:  count,
		logger: logger.With(zap.String("component", "claims_ledger")),
	}, nil
}

// Append 填充条目标识、时间戳与链接哈希后追加写入。
func (l *Ledger) Append(c *Claim) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c.ClaimID == "" {
		c.ClaimID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.PrevHash = l.head
	c.EntryHash = entryHash(*c)

	line, err := json.Marshal(c)
	if err != nil {
		return types.NewError(types.ErrInternalError, "claim not serializable").WithCause(err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("ledger append failed: %s", l.path)).WithCause(err)
	}

	l.head = c.EntryHash
	l.count++
	l.logger.Debug("claim appended",
		zap.String("claim_id", c.ClaimID),
		zap.String("entry_hash", c.EntryHash))
	return nil
}

// Head 返回链头哈希,空账本为空串。
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Count 返回条目数。
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close 关闭底层文件。
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyLedger 重算全链校验账本完整性,返回条目数。链接断裂或
// 哈希不符按篡改处理。
func VerifyLedger(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("ledger not readable: %s", path)).WithCause(err)
	}
	defer file.Close()

	prev := ""
	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Claim
		if err := json.Unmarshal(line, &c); err != nil {
			return count, types.NewError(types.ErrParse,
				fmt.Sprintf("ledger entry %d not valid JSON", count+1)).WithCause(err)
		}
		if c.PrevHash != prev {
			return count, types.NewError(types.ErrIndexCorruption,
				fmt.Sprintf("ledger entry %d breaks the chain: prev_hash mismatch", count+1))
		}
		if entryHash(c) != c.EntryHash {
			return count, types.NewError(types.ErrIndexCorruption,
				fmt.Sprintf("ledger entry %d breaks the chain: entry_hash mismatch", count+1))
		}
		prev = c.EntryHash
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("ledger not readable: %s", path)).WithCause(err)
	}
	return count, nil
}

// entryHash 计算条目链接哈希:前驱哈希拼接规范化条目 JSON。
func entryHash(c Claim) string {
	c.EntryHash = ""
	canonical, _ := json.Marshal(c)
	sum := sha256.Sum256(append([]byte(c.PrevHash), canonical...))
	return hex.EncodeToString(sum[:])
}
