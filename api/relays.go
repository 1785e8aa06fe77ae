package api

import (
	"net/http"

	"github.com/sagernet/sing-relay/adapter"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/relaylist"
	"github.com/sagernet/sing/common/json"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

func (s *Server) relayRouter() http.Handler {
	router := chi.NewRouter()
	router.Get("/", s.getRelays)
	router.Get("/countries", s.getCountries)
	router.Get("/{hostname}", s.getRelay)
	return router
}

func (s *Server) getRelays(writer http.ResponseWriter, request *http.Request) {
	index := s.listManager.Index()
	if index == nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, ErrListUnavailable)
		return
	}
	query := request.URL.Query()
	var ownership *bool
	switch query.Get("ownership") {
	case "":
	case C.OwnershipOwned:
		owned := true
		ownership = &owned
	case C.OwnershipRented:
		owned := false
		ownership = &owned
	default:
		render.Status(request, http.StatusBadRequest)
		render.JSON(writer, request, ErrBadRequest)
		return
	}
	relays := index.Relays()
	if country := query.Get("country"); country != "" {
		countryNode, loaded := index.Country(country)
		if !loaded {
			render.Status(request, http.StatusNotFound)
			render.JSON(writer, request, ErrNotFound)
			return
		}
		relays = nil
		for _, city := range countryNode.Cities {
			relays = append(relays, city.Relays...)
		}
	}
	provider := query.Get("provider")
	activeOnly := query.Get("active") == "true"
	filtered := make([]*relaylist.Relay, 0, len(relays))
	for _, relay := range relays {
		if ownership != nil && relay.Owned != *ownership {
			continue
		}
		if provider != "" && relay.Provider != provider {
			continue
		}
		if activeOnly && !relay.Active {
			continue
		}
		filtered = append(filtered, relay)
	}
	render.JSON(writer, request, render.M{
		"updated_at": s.listManager.UpdatedAt(),
		"relays":     filtered,
	})
}

func (s *Server) getCountries(writer http.ResponseWriter, request *http.Request) {
	index := s.listManager.Index()
	if index == nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, ErrListUnavailable)
		return
	}
	render.JSON(writer, request, render.M{
		"updated_at": s.listManager.UpdatedAt(),
		"countries":  index.Countries(),
	})
}

func (s *Server) getRelay(writer http.ResponseWriter, request *http.Request) {
	index := s.listManager.Index()
	if index == nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, ErrListUnavailable)
		return
	}
	hostname := chi.URLParam(request, "hostname")
	for _, relay := range index.Relays() {
		if relay.Hostname == hostname {
			view := render.M{"relay": relay}
			if history := s.history.LoadProbeHistory(hostname); history != nil {
				view["probe_history"] = history
			}
			render.JSON(writer, request, view)
			return
		}
	}
	render.Status(request, http.StatusNotFound)
	render.JSON(writer, request, ErrNotFound)
}

func (s *Server) getResolve(writer http.ResponseWriter, request *http.Request) {
	index := s.listManager.Index()
	if index == nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, ErrListUnavailable)
		return
	}
	query := request.URL.Query()
	country := query.Get("country")
	city := query.Get("city")
	hostname := query.Get("hostname")
	var constraint relaylist.LocationConstraint
	switch {
	case hostname != "":
		if country == "" || city == "" {
			render.Status(request, http.StatusBadRequest)
			render.JSON(writer, request, ErrBadRequest)
			return
		}
		constraint = relaylist.Only(relaylist.HostnameLocation(country, city, hostname))
	case city != "":
		if country == "" {
			render.Status(request, http.StatusBadRequest)
			render.JSON(writer, request, ErrBadRequest)
			return
		}
		constraint = relaylist.Only(relaylist.CityLocation(country, city))
	case country != "":
		constraint = relaylist.Only(relaylist.CountryLocation(country))
	default:
		constraint = relaylist.Any[relaylist.Location]()
	}

	ctx := log.ContextWithNewID(request.Context())
	item, loaded := index.FindByLocation(constraint)
	if !loaded {
		event := log.NewResolveEvent("miss").WithConstraint(constraint)
		log.WithResolveEvent(s.logger, ctx, log.LevelDebug, event, "no item for ", constraint)
		render.Status(request, http.StatusNotFound)
		render.JSON(writer, request, ErrNotFound)
		return
	}
	event := log.NewResolveEvent("hit").WithConstraint(constraint).WithMatched(item)
	log.WithResolveEvent(s.logger, ctx, log.LevelDebug, event, "resolved ", constraint, " to ", item.Location())
	render.JSON(writer, request, render.M{
		"kind": itemKind(item),
		"item": item,
	})
}

func itemKind(item relaylist.Item) string {
	switch item.(type) {
	case *relaylist.Country:
		return "country"
	case *relaylist.City:
		return "city"
	case *relaylist.Relay:
		return "relay"
	default:
		return "unknown"
	}
}

type selectRequest struct {
	Key     string `json:"key,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

func (s *Server) postSelect(writer http.ResponseWriter, request *http.Request) {
	var body selectRequest
	if request.ContentLength != 0 {
		err := json.NewDecoder(request.Body).Decode(&body)
		if err != nil {
			render.Status(request, http.StatusBadRequest)
			render.JSON(writer, request, ErrBadRequest)
			return
		}
	}
	selection, err := s.selector.Select(request.Context(), body.Key, body.Attempt)
	if err != nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, newError(err.Error()))
		return
	}
	render.JSON(writer, request, selection)
}

func (s *Server) getSelection(writer http.ResponseWriter, request *http.Request) {
	hostname := s.selector.LastSelected()
	if hostname == "" {
		render.Status(request, http.StatusNotFound)
		render.JSON(writer, request, ErrNotFound)
		return
	}
	render.JSON(writer, request, render.M{"hostname": hostname})
}

func (s *Server) postUpdate(writer http.ResponseWriter, request *http.Request) {
	err := s.listManager.Update(request.Context())
	if err != nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, newError(err.Error()))
		return
	}
	render.JSON(writer, request, render.M{
		"updated_at": s.listManager.UpdatedAt(),
	})
}

func (s *Server) getReachability(writer http.ResponseWriter, request *http.Request) {
	if request.URL.Query().Get("probe") == "true" && s.prober != nil {
		_, err := s.prober.ProbeAll(request.Context(), true)
		if err != nil {
			render.Status(request, http.StatusServiceUnavailable)
			render.JSON(writer, request, newError(err.Error()))
			return
		}
	}
	snapshot := s.history.Snapshot()
	if snapshot == nil {
		snapshot = map[string]adapter.ProbeHistory{}
	}
	reachable := 0
	for _, history := range snapshot {
		if history.Reachable() {
			reachable++
		}
	}
	render.JSON(writer, request, render.M{
		"relays":    snapshot,
		"reachable": reachable,
	})
}
