package reward

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/Rarurei/Raruin/internal/model"
)

// ============================================================================
// 小游戏与抽奖结算
// ============================================================================
//
// 这里只有纯函数：结果只取决于入参和传入的随机源，不读写存储，
// 所以账本可以在开事务之前算好结果。同一个种子、同样的入参，结果恒定。

var (
	ErrUnknownGame   = errors.New("未知的小游戏")
	ErrInvalidChoice = errors.New("无效的选项")
	ErrInvalidBet    = errors.New("下注额必须大于0")
	ErrInvalidLevel  = errors.New("概率档位超出范围")
)

// Game 小游戏种类
type Game string

const (
	GameSlot     Game = "slot"
	GameCoinFlip Game = "coinflip"
	GameHighLow  Game = "highlow"
	GameRoulette Game = "roulette"
	GamePoker    Game = "poker"
)

// Games 全部小游戏
var Games = []Game{GameSlot, GameCoinFlip, GameHighLow, GameRoulette, GamePoker}

// Result 一局的胜负
type Result string

const (
	Win  Result = "win"
	Lose Result = "lose"
	Push Result = "push"
)

// Bet 一次下注
type Bet struct {
	Game   Game   `json:"game"`
	Amount int64  `json:"amount"`
	Choice string `json:"choice,omitempty"` // coinflip: heads|tails, highlow: high|low, roulette: red|black|odd|even|0-36
}

// Outcome 结算结果
//
// Payout 是返还给玩家的总额（输为 0，平局等于下注额），
// Delta = Payout - Amount 是需要入账（正）或出账（负）的净额
type Outcome struct {
	Game   Game   `json:"game"`
	Bet    int64  `json:"bet"`
	Result Result `json:"result"`
	Payout int64  `json:"payout"`
	Delta  int64  `json:"delta"`
	Detail string `json:"detail"`
}

// maxMultiplier 各游戏的最高赔付倍率
var maxMultiplier = map[Game]int64{
	GameSlot:     10,
	GameCoinFlip: 2,
	GameHighLow:  2,
	GameRoulette: 36,
	GamePoker:    50,
}

func settle(game Game, bet int64, multiplier int64, detail string) *Outcome {
	o := &Outcome{Game: game, Bet: bet, Payout: bet * multiplier, Detail: detail}
	o.Delta = o.Payout - bet
	switch {
	case multiplier == 0:
		o.Result = Lose
	case multiplier == 1:
		o.Result = Push
	default:
		o.Result = Win
	}
	return o
}

// ResolveMinigame 结算一局小游戏
//
// 余额是否足够由调用方在扣款时检查，这里只校验下注本身
func ResolveMinigame(bet Bet, level int, rng *rand.Rand) (*Outcome, error) {
	if bet.Amount <= 0 {
		return nil, ErrInvalidBet
	}
	if !model.ValidLevel(level) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}

	maxMul, ok := maxMultiplier[bet.Game]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, bet.Game)
	}
	// 【关键点】Payout = Amount * 倍率 不能溢出 int64
	if bet.Amount > math.MaxInt64/maxMul {
		return nil, fmt.Errorf("%w: 单注上限 %d", ErrInvalidBet, math.MaxInt64/maxMul)
	}

	choice := strings.ToLower(strings.TrimSpace(bet.Choice))
	switch bet.Game {
	case GameSlot:
		return playSlot(bet.Amount, level, rng), nil
	case GameCoinFlip:
		return playCoinFlip(bet.Amount, choice, level, rng)
	case GameHighLow:
		return playHighLow(bet.Amount, choice, level, rng)
	case GameRoulette:
		return playRoulette(bet.Amount, choice, level, rng)
	case GamePoker:
		return playPoker(bet.Amount, level, rng), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, bet.Game)
	}
}
