package dealroom_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/dealroom"
	"github.com/aretw0/dealroom/internal/config"
	"github.com/aretw0/dealroom/pkg/domain"
)

// Example_negotiation walks a proposal from creation to acceptance.
func Example_negotiation() {
	app, err := dealroom.Open(config.Config{Adapter: "memory", MatchCache: "memory"})
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	ctx := context.Background()
	investor := domain.Party{ID: "inv-1", Role: domain.RoleInvestor}
	business := domain.Party{ID: "biz-1", Role: domain.RoleBusiness}

	conv, err := app.Conversations.Create(ctx, "c1", business, investor)
	if err != nil {
		log.Fatal(err)
	}

	p, err := app.Proposals.Create(ctx, conv, investor, []domain.Term{{Key: "Investment Amount", Value: "₹50L"}}, 0)
	if err != nil {
		log.Fatal(err)
	}
	if p, err = app.Proposals.Send(ctx, conv, investor, nil, p.Version); err != nil {
		log.Fatal(err)
	}
	if p, err = app.Proposals.Accept(ctx, conv, business, p.Version); err != nil {
		log.Fatal(err)
	}

	fmt.Println(p.Status)
	for _, h := range p.History {
		fmt.Printf("%s by %s\n", h.Event, h.Actor)
	}
	// Output:
	// accepted
	// Initial Proposal Created by inv-1
	// Initial Proposal Sent by inv-1
	// Proposal Accepted by biz-1
}
