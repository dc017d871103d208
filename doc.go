// Package flagkit is an embeddable feature-flag decision engine.
//
// A [Client] answers two questions for a request context: is a flag on, and
// which variant does the caller get. Decisions are deterministic for a given
// user id (or anonId attribute) and carry a [Reason] naming the pipeline step
// that produced them:
//
//	client, err := flagkit.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	evalCtx := flagkit.NewEvaluationContext(
//		flagkit.WithUserID("user-42"),
//		flagkit.WithGroups("beta"),
//		flagkit.WithAttribute("region", "KR"),
//	)
//	if client.IsEnabled("checkout.newFlow", evalCtx) {
//		// ...
//	}
//
// Definitions come from an in-memory table, a JSON or YAML document on disk
// that is re-read lazily, or a Postgres table kept fresh with LISTEN/NOTIFY.
// See [Config] for the environment variables that select them.
package flagkit
