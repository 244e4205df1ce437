package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"thebox/internal/assistant"
	"thebox/internal/cache"
	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/prefs"
	"thebox/internal/reconciler"
	"thebox/internal/services"
)

type command struct {
	usage string
	// session commands need a signed-in identity and an open document.
	session bool
	run     func(ctx context.Context, a *app, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"register":   {"register -email E -password P [-name N]", false, cmdRegister},
		"login":      {"login -email E -password P", false, cmdLogin},
		"logout":     {"logout", false, cmdLogout},
		"profile":    {"profile", true, cmdProfile},
		"add":        {"add -type expense|income -amount A -desc D [-category C] [-date YYYY-MM-DD]", true, cmdAdd},
		"edit":       {"edit ID [-type T] [-amount A] [-desc D] [-category C] [-date YYYY-MM-DD]", true, cmdEdit},
		"delete":     {"delete ID", true, cmdDelete},
		"list":       {"list [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-category C]", true, cmdList},
		"stats":      {"stats", true, cmdStats},
		"sync":       {"sync", true, cmdSync},
		"watch":      {"watch [-interval 30s]", true, cmdWatch},
		"categories": {"categories [add NAME | delete NAME]", true, cmdCategories},
		"recurring":  {"recurring [list | add | edit ID | delete ID | toggle ID | summary] [-month YYYY-MM]", true, cmdRecurring},
		"export":     {"export [-format json|csv] [-o FILE]", true, cmdExport},
		"restore":    {"restore FILE", true, cmdRestore},
		"reset":      {"reset -yes", true, cmdReset},
		"license":    {"license [activate KEY | deactivate]", true, cmdLicense},
		"checkout":   {"checkout -plan monthly|annual", true, cmdCheckout},
		"ask":        {"ask [SENTENCE]", true, cmdAsk},
		"theme":      {"theme [light | dark | toggle]", false, cmdTheme},
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" {
		a.usage()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	if cmd.session {
		if err := a.open(ctx); err != nil {
			return err
		}
	}
	return cmd.run(ctx, a, args[1:])
}

func (a *app) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(a.errOut, "usage: thebox <command> [flags]")
	for _, name := range names {
		fmt.Fprintln(a.errOut, "  "+commands[name].usage)
	}
}

// open restores the persisted session and loads its document.
func (a *app) open(ctx context.Context) error {
	if _, ok := a.b.Session.Current(); !ok {
		if _, ok, err := a.b.Session.Restore(ctx); err != nil {
			return err
		} else if !ok {
			return core.ErrNotAuthenticated
		}
	}
	return a.b.Reconciler.Open(ctx)
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// parseInterleaved lets positional arguments come before flags.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := a.flags("register")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := a.b.Session.Register(ctx, *email, *password, *name)
	if err != nil {
		return err
	}
	return a.afterSignIn(ctx, sess)
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := a.b.Session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	return a.afterSignIn(ctx, sess)
}

func (a *app) afterSignIn(ctx context.Context, sess core.Session) error {
	if err := a.b.Reconciler.Open(ctx); err != nil {
		return err
	}
	if err := a.b.Reconciler.Reload(ctx); err != nil {
		a.logger.WarnContext(ctx, "Initial reload failed", log.FieldError, err)
	}
	fmt.Fprintf(a.out, "signed in as %s (%s)\n", sess.User.Email, sess.User.Plan)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if _, ok := a.b.Session.Current(); !ok {
		if _, _, err := a.b.Session.Restore(ctx); err != nil {
			return err
		}
	}
	if err := a.b.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func cmdProfile(ctx context.Context, a *app, _ []string) error {
	sess, _ := a.b.Session.Current()
	user := sess.User
	switch {
	case a.b.Remote != nil:
		u, err := a.b.Remote.Profile(ctx)
		if err != nil {
			return err
		}
		user = u
	case a.b.Accounts != nil:
		u, err := a.b.Accounts.User(ctx, sess.User.Email)
		if err != nil {
			return err
		}
		user = u
	}
	if err := a.b.Session.UpdateUser(ctx, user); err != nil {
		return err
	}
	remaining := "unlimited"
	if n := a.b.Reconciler.Remaining(); n >= 0 {
		remaining = strconv.Itoa(n)
	}
	fmt.Fprintf(a.out, "email:     %s\nname:      %s\nplan:      %s\ntier:      %s\nremaining: %s\n",
		user.Email, user.Name, user.Plan, a.b.Reconciler.Tier(), remaining)
	return nil
}

type draftFlags struct {
	typ, amount, desc, category, date *string
}

func bindDraftFlags(fs *flag.FlagSet, defaultType, defaultCategory string) draftFlags {
	return draftFlags{
		typ:      fs.String("type", defaultType, "expense or income"),
		amount:   fs.String("amount", "", "amount, e.g. 12,50"),
		desc:     fs.String("desc", "", "description"),
		category: fs.String("category", defaultCategory, "category"),
		date:     fs.String("date", "", "date as YYYY-MM-DD"),
	}
}

// draft builds a draft from the flags on top of base; unset flags keep base values.
func (f draftFlags) draft(fs *flag.FlagSet, base core.Draft) (core.Draft, error) {
	d := base
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["type"] || d.Type == "" {
		d.Type = parseType(*f.typ)
	}
	if set["amount"] || d.Amount.IsZero() {
		amt, err := core.ParseAmount(*f.amount)
		if err != nil {
			return core.Draft{}, &core.ValidationError{Field: "amount", Reason: fmt.Sprintf("invalid amount %q", *f.amount)}
		}
		d.Amount = amt
	}
	if set["desc"] || d.Description == "" {
		d.Description = strings.TrimSpace(*f.desc)
	}
	if set["category"] || d.Category == "" {
		d.Category = strings.TrimSpace(*f.category)
	}
	if *f.date != "" {
		date, err := core.ParseDate(*f.date)
		if err != nil {
			return core.Draft{}, err
		}
		d.Date = date
	} else if d.Date.IsZero() {
		d.Date = core.Today()
	}
	return d, d.Validate()
}

func parseType(s string) core.TxType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "receita", "in":
		return core.Income
	case "expense", "despesa", "out":
		return core.Expense
	}
	return core.TxType(s)
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := a.flags("add")
	df := bindDraftFlags(fs, string(core.Expense), "Outros")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := df.draft(fs, core.Draft{})
	if err != nil {
		return err
	}
	tx, err := a.b.Reconciler.Create(ctx, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s %s %s\n", tx.ID, tx.Description, core.FormatAmount(tx.Amount))
	return nil
}

func cmdEdit(ctx context.Context, a *app, args []string) error {
	fs := a.flags("edit")
	df := bindDraftFlags(fs, "", "")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("edit takes exactly one transaction id")
	}
	current, ok := a.find(pos[0])
	if !ok {
		return fmt.Errorf("transaction %s: %w", pos[0], core.ErrNotFound)
	}
	d, err := df.draft(fs, core.Draft{
		Type:        current.Type,
		Category:    current.Category,
		Description: current.Description,
		Amount:      current.Amount,
		Date:        current.Date,
	})
	if err != nil {
		return err
	}
	tx, err := a.b.Reconciler.Edit(ctx, current.ID, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "updated %s %s %s\n", tx.ID, tx.Description, core.FormatAmount(tx.Amount))
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("delete takes exactly one transaction id")
	}
	if err := a.b.Reconciler.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", args[0])
	return nil
}

func (a *app) find(id string) (core.Transaction, bool) {
	for _, tx := range a.b.Reconciler.Transactions() {
		if tx.ID == id {
			return tx, true
		}
	}
	return core.Transaction{}, false
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := a.flags("list")
	from := fs.String("from", "", "first date, inclusive")
	to := fs.String("to", "", "last date, inclusive")
	category := fs.String("category", "", "only this category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var f core.Filters
	var err error
	if *from != "" {
		if f.From, err = core.ParseDate(*from); err != nil {
			return err
		}
	}
	if *to != "" {
		if f.To, err = core.ParseDate(*to); err != nil {
			return err
		}
	}
	f.Category = *category

	if err := a.b.Reconciler.Reload(ctx); err != nil {
		if !core.IsNetwork(err) && !errors.Is(err, core.ErrReloadSuppressed) {
			return err
		}
		fmt.Fprintln(a.errOut, "showing local data:", err)
	}
	a.printTransactions(f.Apply(a.b.Reconciler.Transactions()))
	return nil
}

func (a *app) printTransactions(txs []core.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(a.out, "no transactions")
		return
	}
	p := newPalette(a.out, a.prefs.Theme())
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	header := []string{"DATE", "TYPE", "CATEGORY", "DESCRIPTION", "AMOUNT", "ID"}
	for i, h := range header {
		header[i] = p.heading.Render(h)
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, tx := range txs {
		amount := p.income.Render(core.FormatAmount(tx.Amount))
		if tx.Type == core.Expense {
			amount = p.expense.Render("-" + core.FormatAmount(tx.Amount))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", tx.Date, tx.Type, tx.Category, tx.Description, amount, p.muted.Render(tx.ID))
	}
	w.Flush()
}

func (a *app) printStats(s core.Stats) {
	p := newPalette(a.out, a.prefs.Theme())
	balance := p.income
	if s.Balance.IsNegative() {
		balance = p.expense
	}
	fmt.Fprintf(a.out, "income:   %s\nexpense:  %s\nbalance:  %s\ncount:    %d\n",
		p.income.Render(core.FormatAmount(s.TotalIncome)), p.expense.Render(core.FormatAmount(s.TotalExpense)),
		balance.Render(core.FormatAmount(s.Balance)), s.TransactionCount)
	names := make([]string, 0, len(s.ByCategory))
	for name := range s.ByCategory {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.ByCategory[names[i]].GreaterThan(s.ByCategory[names[j]])
	})
	for _, name := range names {
		fmt.Fprintf(a.out, "  %-16s %s\n", name, p.expense.Render(core.FormatAmount(s.ByCategory[name])))
	}
}

func cmdStats(_ context.Context, a *app, _ []string) error {
	a.printStats(a.b.Reconciler.LocalStats())
	return nil
}

func cmdSync(ctx context.Context, a *app, _ []string) error {
	res, err := a.b.Reconciler.Sync(ctx)
	if err != nil {
		return err
	}
	if res.Degraded {
		fmt.Fprintln(a.errOut, newPalette(a.errOut, a.prefs.Theme()).warning.Render("ledger partly unreachable, showing local data"))
	}
	fmt.Fprintf(a.out, "%d transactions\n", len(res.Transactions))
	a.printStats(res.Stats)
	return nil
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := a.flags("watch")
	interval := fs.Duration("interval", services.DefaultPollerConfig().Interval, "time between syncs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	poller := services.NewPoller(a.b.Reconciler, services.PollerConfig{
		Interval: *interval,
		OnSync: func(res reconciler.SyncResult) {
			fmt.Fprintf(a.out, "%s  %d transactions, balance %s\n",
				time.Now().Format("15:04:05"), len(res.Transactions), core.FormatAmount(res.Stats.Balance))
		},
	}, a.logger)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-poller.Done():
		return core.ErrNotAuthenticated
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return poller.Stop(stopCtx)
}

func cmdCategories(ctx context.Context, a *app, args []string) error {
	svc := services.NewCategoryService(a.b.Reconciler, a.logger)
	if len(args) == 0 || args[0] == "list" {
		for _, c := range svc.List() {
			fmt.Fprintln(a.out, c)
		}
		return nil
	}
	if len(args) < 2 {
		return fmt.Errorf("categories %s needs a name", args[0])
	}
	name := strings.Join(args[1:], " ")
	switch args[0] {
	case "add":
		return svc.Add(ctx, name)
	case "delete":
		return svc.Delete(ctx, name)
	}
	return fmt.Errorf("unknown categories action %q", args[0])
}

func cmdRecurring(ctx context.Context, a *app, args []string) error {
	svc := services.NewRecurringService(a.b.Reconciler, a.logger)
	action := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		action, args = args[0], args[1:]
	}

	fs := a.flags("recurring " + action)
	desc := fs.String("desc", "", "description")
	amount := fs.String("amount", "", "monthly amount")
	day := fs.Int("day", 0, "day of month the bill is due")
	month := fs.String("month", core.Today().MonthKey(), "month as YYYY-MM")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	id := ""
	if len(pos) > 0 {
		id = pos[0]
	}

	switch action {
	case "list", "summary":
		summary, err := svc.Summary(*month)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, summary.String())
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		for _, item := range summary.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\tdue %s\t%s\n",
				item.Rule.ID, item.Rule.Description, core.FormatAmount(item.Rule.Amount), item.DueDate, item.Status)
		}
		return w.Flush()
	case "add":
		amt, err := core.ParseAmount(*amount)
		if err != nil {
			return &core.ValidationError{Field: "amount", Reason: fmt.Sprintf("invalid amount %q", *amount)}
		}
		rule, err := svc.Add(ctx, *desc, amt, *day)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "added %s %s\n", rule.ID, rule.Description)
		return nil
	case "edit":
		rule, ok := findRule(svc.List(), id)
		if !ok {
			return fmt.Errorf("recurring %q: %w", id, core.ErrNotFound)
		}
		if *desc != "" {
			rule.Description = *desc
		}
		if *amount != "" {
			if rule.Amount, err = core.ParseAmount(*amount); err != nil {
				return &core.ValidationError{Field: "amount", Reason: fmt.Sprintf("invalid amount %q", *amount)}
			}
		}
		if *day != 0 {
			rule.DayOfMonth = *day
		}
		_, err := svc.Update(ctx, rule.ID, rule.Description, rule.Amount, rule.DayOfMonth)
		return err
	case "delete":
		return svc.Delete(ctx, id)
	case "toggle":
		status, err := svc.TogglePaid(ctx, id, *month)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s: %s\n", id, *month, status)
		return nil
	}
	return fmt.Errorf("unknown recurring action %q", action)
}

func findRule(rules []core.RecurringRule, id string) (core.RecurringRule, bool) {
	for _, r := range rules {
		if r.ID == id {
			return r, true
		}
	}
	return core.RecurringRule{}, false
}

func cmdExport(_ context.Context, a *app, args []string) error {
	fs := a.flags("export")
	format := fs.String("format", "json", "json or csv")
	output := fs.String("o", "", "output file, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	svc := services.NewBackupService(a.b.Reconciler, a.logger)
	var (
		data []byte
		err  error
	)
	switch *format {
	case "json":
		data, err = svc.ExportJSON()
	case "csv":
		data, err = svc.ExportCSV()
	default:
		return fmt.Errorf("unknown export format %q", *format)
	}
	if err != nil {
		return err
	}
	if *output == "" {
		_, err = a.out.Write(data)
		return err
	}
	return os.WriteFile(*output, data, 0o600)
}

func cmdRestore(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("restore takes exactly one file")
	}
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(a.in)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}
	if err := services.NewBackupService(a.b.Reconciler, a.logger).Restore(ctx, data); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "backup restored")
	return nil
}

func cmdReset(ctx context.Context, a *app, args []string) error {
	fs := a.flags("reset")
	yes := fs.Bool("yes", false, "confirm wiping local data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return fmt.Errorf("reset wipes all local data, pass -yes to confirm")
	}
	if err := services.NewBackupService(a.b.Reconciler, a.logger).Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "local data reset")
	return nil
}

func cmdLicense(ctx context.Context, a *app, args []string) error {
	svc := services.NewLicenseService(a.b.Reconciler, a.logger)
	if len(args) == 0 {
		state := "inactive"
		if svc.Active() {
			state = "active"
		}
		fmt.Fprintf(a.out, "license %s, tier %s\n", state, a.b.Reconciler.Tier())
		return nil
	}
	switch args[0] {
	case "activate":
		if len(args) != 2 {
			return fmt.Errorf("license activate takes a key")
		}
		if err := svc.Activate(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "pro features unlocked")
		return nil
	case "deactivate":
		return svc.Deactivate(ctx)
	}
	return fmt.Errorf("unknown license action %q", args[0])
}

func cmdCheckout(ctx context.Context, a *app, args []string) error {
	fs := a.flags("checkout")
	plan := fs.String("plan", "monthly", "monthly or annual")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.b.Remote == nil {
		return fmt.Errorf("checkout needs the remote ledger, use 'thebox license activate' locally")
	}
	sessionID, err := a.b.Remote.Checkout(ctx, *plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "checkout session %s\ncomplete the payment, then run 'thebox profile' to refresh your plan\n", sessionID)
	return nil
}

func cmdAsk(ctx context.Context, a *app, args []string) error {
	if !a.cfg.AssistantEnabled() {
		return assistant.ErrNoAPIKey
	}
	model, err := assistant.NewChatModel(assistant.ChatOptions{
		BaseURL: a.cfg.AssistantBaseURL,
		APIKey:  a.cfg.AssistantAPIKey,
		Model:   a.cfg.AssistantModel,
	})
	if err != nil {
		return err
	}
	rec := services.NewRecurringService(a.b.Reconciler, a.logger)
	asst := assistant.New(model, a.b.Reconciler, a.b.Reconciler, rec, a.cfg.AssistantCacheTTL, a.logger)

	if len(args) > 0 {
		return a.ask(ctx, asst, strings.Join(args, " "))
	}

	if c := asst.Cache(); c != nil {
		janitor := cache.NewJanitor(a.logger)
		janitor.Register(c)
		janitor.Start(ctx, a.cfg.AssistantCacheTTL)
		defer janitor.Stop()
	}
	scanner := bufio.NewScanner(a.in)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(a.out, "> ")
			continue
		}
		if err := a.ask(ctx, asst, line); err != nil {
			fmt.Fprintln(a.errOut, describe(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(a.out, "> ")
	}
	return scanner.Err()
}

func (a *app) ask(ctx context.Context, asst *assistant.Assistant, sentence string) error {
	res, err := asst.Execute(ctx, sentence)
	if err != nil {
		return err
	}
	switch {
	case res.Transaction != nil:
		tx := res.Transaction
		fmt.Fprintf(a.out, "added %s %s %s (%s, %s)\n", tx.Type, tx.Description, core.FormatAmount(tx.Amount), tx.Category, tx.Date)
	case res.Rule != nil:
		fmt.Fprintf(a.out, "added recurring %s %s every day %d\n", res.Rule.Description, core.FormatAmount(res.Rule.Amount), res.Rule.DayOfMonth)
	}
	return nil
}

func cmdTheme(_ context.Context, a *app, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, a.prefs.Theme())
		return nil
	}
	if args[0] == "toggle" {
		t, err := a.prefs.ToggleTheme()
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, t)
		return nil
	}
	t := prefs.Theme(args[0])
	if !t.Valid() {
		return fmt.Errorf("unknown theme %q", args[0])
	}
	return a.prefs.SetTheme(t)
}
