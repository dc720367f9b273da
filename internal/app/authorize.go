package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Authorize runs the interactive half of the OAuth flow. Without a code it
// begins an authorization and prints the URL to visit; with --code (and the
// state echoed back by the venue) it completes the exchange and persists
// the token.
func (a *App) Authorize(ctx context.Context, opts AuthorizeOptions) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := a.newAuthManager(st)

	if opts.Code == "" {
		authURL, state, err := manager.BeginAuthorization(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Open the following URL in a browser and sign in:")
		fmt.Fprintln(os.Stdout, "")
		fmt.Fprintln(os.Stdout, "  "+authURL)
		fmt.Fprintln(os.Stdout, "")
		fmt.Fprintln(os.Stdout, "Then run:")
		fmt.Fprintf(os.Stdout, "  marketdata authorize --code <code> --state %s\n", state)
		return nil
	}

	if opts.State == "" {
		return errors.New("--state is required alongside --code")
	}

	token, err := manager.CompleteAuthorization(ctx, opts.Code, opts.State)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Authorization complete; token valid until %s\n",
		token.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}
