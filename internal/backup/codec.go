package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rarurei/Raruin/internal/model"
)

// MessageHeader 聊天频道备份消息的标题行
const MessageHeader = "【Raruin Backup】"

const legacyDateLayout = "2006-01-02 15:04:05"

type wireSnapshot struct {
	Accounts  []AccountRow   `json:"accounts"`
	Shops     []string       `json:"shops"`
	Products  []ProductRow   `json:"products"`
	Inventory []InventoryRow `json:"inventory"`
	Timestamp string         `json:"timestamp"`
	Version   int            `json:"version"`
}

// Encode 序列化为 JSON
func Encode(s *Snapshot) ([]byte, error) {
	w := wireSnapshot{
		Accounts:  s.Accounts,
		Shops:     s.Shops,
		Products:  s.Products,
		Inventory: s.Inventory,
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339),
		Version:   s.Version,
	}
	if w.Accounts == nil {
		w.Accounts = []AccountRow{}
	}
	if w.Shops == nil {
		w.Shops = []string{}
	}
	if w.Products == nil {
		w.Products = []ProductRow{}
	}
	if w.Inventory == nil {
		w.Inventory = []InventoryRow{}
	}
	if w.Version == 0 {
		w.Version = Version
	}
	return json.MarshalIndent(w, "", "  ")
}

// EncodeMessage 包装成可以直接贴到聊天频道的消息
func EncodeMessage(s *Snapshot) (string, error) {
	data, err := Encode(s)
	if err != nil {
		return "", err
	}
	return MessageHeader + "\n```json\n" + string(data) + "\n```", nil
}

func (r AccountRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.UserID, r.Balance, r.LifetimeEarned, r.LifetimeSpent})
}

func (r ProductRow) MarshalJSON() ([]byte, error) {
	var stock interface{} = r.Stock.Remaining
	if r.Stock.Unlimited {
		stock = UnlimitedMarker
	}
	var role interface{}
	if r.RequiredRole != "" {
		role = r.RequiredRole
	}
	return json.Marshal([]interface{}{r.Name, r.ShopName, r.Description, r.Price, stock, role})
}

func (r InventoryRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.UserID, r.ShopName, r.ProductName, r.Quantity})
}

// ============================================================================
// 解码
// ============================================================================
//
// 除了当前格式，还兼容旧版 bot 的备份：
//   - 顶层是 "users" 而不是 "accounts"，时间字段是 "date"（YYYY-MM-DD HH:MM:SS）
//   - user_id 是数字
//   - shops 的每一行是 [shop_name]
//   - 商品库存 0 表示无限，buy_role 0 表示所有人可买
//
// 输入也可以是整条聊天备份消息，会先取出 ```json 代码块

type rawSnapshot struct {
	Accounts  [][]interface{} `json:"accounts"`
	Users     [][]interface{} `json:"users"`
	Shops     []interface{}   `json:"shops"`
	Products  [][]interface{} `json:"products"`
	Inventory [][]interface{} `json:"inventory"`
	Timestamp string          `json:"timestamp"`
	Date      string          `json:"date"`
	Version   int             `json:"version"`
}

// Decode 解析快照，格式错误返回包装了 ErrInvalidSnapshot 的错误
func Decode(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(unwrapMessage(data)))
	dec.UseNumber()

	var raw rawSnapshot
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	legacy := raw.Accounts == nil && raw.Users != nil
	rows := raw.Accounts
	if legacy {
		rows = raw.Users
	}

	s := &Snapshot{
		Accounts:  make([]AccountRow, 0, len(rows)),
		Shops:     make([]string, 0, len(raw.Shops)),
		Products:  make([]ProductRow, 0, len(raw.Products)),
		Inventory: make([]InventoryRow, 0, len(raw.Inventory)),
		Version:   raw.Version,
	}
	if legacy {
		s.Version = 0
	}

	var err error
	if s.Timestamp, err = parseTimestamp(raw.Timestamp, raw.Date); err != nil {
		return nil, err
	}

	for i, row := range rows {
		a, err := decodeAccount(row)
		if err != nil {
			return nil, fmt.Errorf("%w: accounts[%d]: %v", ErrInvalidSnapshot, i, err)
		}
		s.Accounts = append(s.Accounts, a)
	}
	for i, row := range raw.Shops {
		name, err := decodeShop(row)
		if err != nil {
			return nil, fmt.Errorf("%w: shops[%d]: %v", ErrInvalidSnapshot, i, err)
		}
		s.Shops = append(s.Shops, name)
	}
	for i, row := range raw.Products {
		p, err := decodeProduct(row, legacy)
		if err != nil {
			return nil, fmt.Errorf("%w: products[%d]: %v", ErrInvalidSnapshot, i, err)
		}
		s.Products = append(s.Products, p)
	}
	for i, row := range raw.Inventory {
		e, err := decodeInventory(row)
		if err != nil {
			return nil, fmt.Errorf("%w: inventory[%d]: %v", ErrInvalidSnapshot, i, err)
		}
		s.Inventory = append(s.Inventory, e)
	}

	s.sort()
	return s, nil
}

func unwrapMessage(data []byte) []byte {
	text := string(data)
	start := strings.Index(text, "```json")
	if start < 0 {
		return data
	}
	start += len("```json")
	end := strings.Index(text[start:], "```")
	if end < 0 {
		return data
	}
	return []byte(text[start : start+end])
}

func parseTimestamp(ts, date string) (time.Time, error) {
	switch {
	case ts != "":
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidSnapshot, err)
		}
		return t.UTC(), nil
	case date != "":
		t, err := time.ParseInLocation(legacyDateLayout, date, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: date: %v", ErrInvalidSnapshot, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, nil
	}
}

func decodeAccount(row []interface{}) (AccountRow, error) {
	if len(row) != 4 {
		return AccountRow{}, fmt.Errorf("需要 4 列, 实际 %d 列", len(row))
	}
	var a AccountRow
	var err error
	if a.UserID, err = asID(row[0]); err != nil {
		return a, err
	}
	if a.Balance, err = asInt(row[1]); err != nil {
		return a, err
	}
	if a.LifetimeEarned, err = asInt(row[2]); err != nil {
		return a, err
	}
	a.LifetimeSpent, err = asInt(row[3])
	return a, err
}

func decodeShop(v interface{}) (string, error) {
	if row, ok := v.([]interface{}); ok {
		if len(row) != 1 {
			return "", fmt.Errorf("需要 1 列, 实际 %d 列", len(row))
		}
		v = row[0]
	}
	name, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("商店名必须是字符串: %v", v)
	}
	return name, nil
}

func decodeProduct(row []interface{}, legacy bool) (ProductRow, error) {
	if len(row) != 6 {
		return ProductRow{}, fmt.Errorf("需要 6 列, 实际 %d 列", len(row))
	}
	var p ProductRow
	var ok bool
	var err error
	if p.Name, ok = row[0].(string); !ok {
		return p, fmt.Errorf("商品名必须是字符串")
	}
	if p.ShopName, ok = row[1].(string); !ok {
		return p, fmt.Errorf("商店名必须是字符串")
	}
	if row[2] != nil {
		if p.Description, ok = row[2].(string); !ok {
			return p, fmt.Errorf("描述必须是字符串")
		}
	}
	if p.Price, err = asInt(row[3]); err != nil {
		return p, err
	}
	if p.Stock, err = asStock(row[4], legacy); err != nil {
		return p, err
	}
	p.RequiredRole, err = asRole(row[5], legacy)
	return p, err
}

func decodeInventory(row []interface{}) (InventoryRow, error) {
	if len(row) != 4 {
		return InventoryRow{}, fmt.Errorf("需要 4 列, 实际 %d 列", len(row))
	}
	var e InventoryRow
	var ok bool
	var err error
	if e.UserID, err = asID(row[0]); err != nil {
		return e, err
	}
	if e.ShopName, ok = row[1].(string); !ok {
		return e, fmt.Errorf("商店名必须是字符串")
	}
	if e.ProductName, ok = row[2].(string); !ok {
		return e, fmt.Errorf("商品名必须是字符串")
	}
	e.Quantity, err = asInt(row[3])
	return e, err
}

// asID user_id 可以是字符串或数字（旧版）
func asID(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		if _, err := id.Int64(); err != nil {
			return "", fmt.Errorf("user_id 不是整数: %s", id)
		}
		return id.String(), nil
	default:
		return "", fmt.Errorf("user_id 类型错误: %v", v)
	}
}

func asInt(v interface{}) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("需要整数: %v", v)
	}
	return n.Int64()
}

func asStock(v interface{}, legacy bool) (model.Stock, error) {
	if s, ok := v.(string); ok {
		if s == UnlimitedMarker {
			return model.UnlimitedStock(), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.Stock{}, fmt.Errorf("无法识别的库存: %q", s)
		}
		v = json.Number(strconv.FormatInt(n, 10))
	}
	n, err := asInt(v)
	if err != nil {
		return model.Stock{}, err
	}
	if legacy && n == 0 {
		return model.UnlimitedStock(), nil
	}
	return model.Finite(n), nil
}

func asRole(v interface{}, legacy bool) (string, error) {
	switch role := v.(type) {
	case nil:
		return "", nil
	case string:
		return role, nil
	case json.Number:
		if legacy && role.String() == "0" {
			return "", nil
		}
		return role.String(), nil
	default:
		return "", fmt.Errorf("required_role 类型错误: %v", v)
	}
}
