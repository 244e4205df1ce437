// Package assistant turns a free-form sentence ("gastei 50 de gasolina ontem")
// into a transaction or recurring bill using a chat completion model.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"thebox/internal/cache"
	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/tier"
)

const systemPrompt = `Você é uma API JSON para um app financeiro.
Data de hoje: %s.
Categorias existentes: %s.

Analise a frase do usuário e retorne um JSON.

PADRÕES DE RESPOSTA (Use exatamente este formato):

1. PARA DESPESAS:
{ "action": "add_tx", "tipo": "expense", "desc": "Descrição curta", "val": 0.00, "cat": "Categoria mais próxima", "data": "YYYY-MM-DD" }

2. PARA RECEITAS:
{ "action": "add_tx", "tipo": "income", "desc": "Descrição curta", "val": 0.00, "cat": "Categoria mais próxima", "data": "YYYY-MM-DD" }

3. PARA RECORRENTES (Contas fixas mensais):
{ "action": "add_rec", "desc": "Descrição", "val": 0.00, "dia": 1 }`

// State exposes the gate and the category list.
type State interface {
	Document() core.Document
	Tier() tier.Tier
}

// Transactions is satisfied by reconciler.Reconciler.
type Transactions interface {
	Create(ctx context.Context, d core.Draft) (core.Transaction, error)
}

// Recurring is satisfied by services.RecurringService.
type Recurring interface {
	Add(ctx context.Context, description string, amount decimal.Decimal, day int) (core.RecurringRule, error)
}

// Result reports what a sentence produced. Exactly one of Transaction or
// Rule is set.
type Result struct {
	Command     Command
	Cached      bool
	Transaction *core.Transaction
	Rule        *core.RecurringRule
}

type Assistant struct {
	model     Model
	state     State
	txs       Transactions
	recurring Recurring
	cache     *cache.LRU[Command]
	now       func() time.Time
	logger    *log.Logger
}

// New builds an assistant. cacheTTL of zero disables caching.
func New(model Model, state State, txs Transactions, recurring Recurring, cacheTTL time.Duration, logger *log.Logger) *Assistant {
	a := &Assistant{
		model:     model,
		state:     state,
		txs:       txs,
		recurring: recurring,
		now:       time.Now,
		logger:    logger.WithComponent(log.ComponentAssistant),
	}
	if cacheTTL > 0 {
		a.cache = cache.NewLRU[Command](128, cacheTTL)
	}
	return a
}

// Cache exposes the command cache so a janitor can sweep it. Nil when disabled.
func (a *Assistant) Cache() *cache.LRU[Command] {
	return a.cache
}

// Parse asks the model for the command behind sentence.
func (a *Assistant) Parse(ctx context.Context, sentence string) (Command, bool, error) {
	if err := tier.Require(tier.FeatureAssistant, a.state.Tier()); err != nil {
		return Command{}, false, err
	}
	sentence = strings.Join(strings.Fields(sentence), " ")
	if sentence == "" {
		return Command{}, false, &core.ValidationError{Field: "sentence", Reason: "cannot be empty"}
	}

	today := a.today()
	categories := a.state.Document().Categories
	key := today.String() + "|" + strings.ToLower(sentence)
	if a.cache != nil {
		if cmd, ok := a.cache.Get(key); ok {
			a.logger.DebugContext(ctx, "Assistant cache hit")
			return cmd, true, nil
		}
	}

	system := fmt.Sprintf(systemPrompt, today.String(), strings.Join(categories, ", "))
	start := time.Now()
	reply, err := a.model.Complete(ctx, system, sentence)
	if err != nil {
		a.logger.WarnContext(ctx, "Assistant request failed", log.FieldOperation, log.OpParse, log.FieldError, err)
		return Command{}, false, err
	}
	cmd, err := decodeCommand(reply)
	if err != nil {
		a.logger.WarnContext(ctx, "Assistant reply not understood", log.FieldError, err)
		return Command{}, false, err
	}
	a.logger.InfoContext(ctx, "Assistant parsed sentence",
		"action", string(cmd.Action),
		log.FieldDuration, time.Since(start).Milliseconds())

	if a.cache != nil {
		a.cache.Set(key, cmd)
	}
	return cmd, false, nil
}

// Execute parses sentence and applies the command. Transactions go through
// the reconciler, so the transaction cap and rollback rules apply.
func (a *Assistant) Execute(ctx context.Context, sentence string) (Result, error) {
	cmd, cached, err := a.Parse(ctx, sentence)
	if err != nil {
		return Result{}, err
	}
	res := Result{Command: cmd, Cached: cached}

	switch cmd.Action {
	case ActionAddTransaction:
		draft, err := cmd.Draft(a.state.Document().Categories, a.today())
		if err != nil {
			return res, err
		}
		tx, err := a.txs.Create(ctx, draft)
		if err != nil {
			return res, err
		}
		res.Transaction = &tx
	case ActionAddRecurring:
		rule, err := a.recurring.Add(ctx, cmd.Description, cmd.Amount, int(cmd.Day))
		if err != nil {
			return res, err
		}
		res.Rule = &rule
	}
	return res, nil
}

func (a *Assistant) today() core.Date {
	now := a.now()
	return core.NewDate(now.Year(), int(now.Month()), now.Day())
}
