/*
Package markov builds n-gram transition tables from token sequences and
generates new sequences by frequency-weighted random walks over them.

A Table is built once from an in-memory slice of tokens with Build and is
never modified afterwards, so a single table can serve any number of
concurrent Generate calls. Each call owns its random source; pass WithSeed
for reproducible output.

	table, err := markov.Build(tokens, 2)
	if err != nil {
		return err
	}
	words, err := markov.Generate(ctx, table, 50, markov.WithSeed(42))

GenerateInteractive drives the same walk from a line-oriented reader and
writer, letting a user pick each branch, ask for a random pick, or quit.

Combining corpora is plain concatenation of their token slices before Build.
*/
package markov
