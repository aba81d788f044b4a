package main

import (
	"reservation-service/internal/models"
	"reservation-service/internal/store"
)

// seedDemoData fills an empty memory store with a manager, a requester and a
// few products so the API is usable without a database.
func seedDemoData(m *store.MemoryStore) {
	m.AddUser(models.User{Name: "Demo Manager", Email: "manager@example.com", Role: models.RoleManager})
	m.AddUser(models.User{Name: "Demo Requester", Email: "requester@example.com", Role: models.RoleRequester})

	for _, p := range []models.Product{
		{Name: "Projector", Description: "Full HD portable projector", Price: 45000, Amount: 8},
		{Name: "Tripod", Description: "Aluminium camera tripod", Price: 3500, Amount: 25},
		{Name: "Wireless Microphone", Description: "Handheld UHF microphone", Price: 12000, Amount: 12},
		{Name: "Extension Cable", Description: "10m power extension", Price: 1500, Amount: 40},
	} {
		m.AddProduct(p)
	}
}
